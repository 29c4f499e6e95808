package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name        string
		allowed     []string
		origin      string
		preflight   bool
		status      int
		allowOrigin string
		credentials string
	}{
		{"explicit origin", []string{"https://app.example"}, "https://app.example", false, http.StatusTeapot, "https://app.example", "true"},
		{"wildcard has no credentials", []string{"*"}, "https://other.example", false, http.StatusTeapot, "https://other.example", ""},
		{"unlisted origin", []string{"https://app.example"}, "https://evil.example", false, http.StatusTeapot, "", ""},
		{"no origin header", []string{"*"}, "", false, http.StatusTeapot, "", ""},
		{"preflight", []string{"https://app.example"}, "https://app.example", true, http.StatusNoContent, "https://app.example", "true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := http.MethodGet
			if tt.preflight {
				method = http.MethodOptions
			}
			req := httptest.NewRequest(method, "/api/interviews", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()

			CORS(tt.allowed)(next).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.allowOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.credentials, w.Header().Get("Access-Control-Allow-Credentials"))
			if tt.allowOrigin != "" {
				assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Interview-Token")
			}
		})
	}
}
