// Package token issues and validates interview session tokens.
package token

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ashureev/interviewd/internal/domain"
)

const (
	// URLParam is the chi route parameter carrying the token.
	URLParam = "token"
	// HeaderName lets clients pass the token on routes without a path param.
	HeaderName = "X-Interview-Token"
	prefix     = "iv_"
)

type contextKey int

const tokenKey contextKey = iota

var pattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// New returns a fresh random token.
func New() string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Valid reports whether s is an acceptable token.
func Valid(s string) bool {
	return pattern.MatchString(s)
}

// Parse trims s and rejects anything that is not a valid token.
func Parse(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !Valid(s) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidToken, s)
	}
	return s, nil
}

// WithToken stores token in ctx.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// FromContext extracts the token stored by Middleware.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tokenKey).(string); ok {
		return v
	}
	return ""
}

// FromRequest reads the token from the route, then the header, then the
// query string.
func FromRequest(r *http.Request) string {
	if t := chi.URLParam(r, URLParam); t != "" {
		return t
	}
	if t := r.Header.Get(HeaderName); t != "" {
		return t
	}
	return r.URL.Query().Get(URLParam)
}

// Middleware validates the request token and stores it in the context.
// Requests with a malformed token are rejected with 400.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := FromRequest(r)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		t, err := Parse(raw)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid session token"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithToken(r.Context(), t)))
	})
}

// IPFromRequest returns a normalized remote IP.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
