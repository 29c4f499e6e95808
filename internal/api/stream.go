package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ashureev/interviewd/internal/token"
	"github.com/ashureev/interviewd/internal/workflow"
)

type callOutcome struct {
	res workflow.Result
	err error
}

// streamCall runs call while streaming its progress as server-sent events.
// The final frame is either "result" or "error".
func (h *Handler) streamCall(w http.ResponseWriter, r *http.Request, tok string, call func(ctx context.Context) (workflow.Result, error)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	progress := make(chan workflow.Progress, 16)
	done := make(chan callOutcome, 1)
	// The call outlives a disconnecting client.
	ctx := workflow.WithObserver(context.WithoutCancel(r.Context()), func(p workflow.Progress) {
		select {
		case progress <- p:
		default:
		}
	})
	go func() {
		res, err := call(ctx)
		done <- callOutcome{res: res, err: err}
	}()

	keepalive := time.NewTicker(h.opts.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case p := <-progress:
			if err := writeSSEJSON(w, "progress", p); err != nil {
				h.logger.Warn("failed to write SSE progress event", "error", err, "token", tok)
				return
			}
			flusher.Flush()
		case out := <-done:
			// Flush progress that raced with completion.
			for drained := false; !drained; {
				select {
				case p := <-progress:
					if err := writeSSEJSON(w, "progress", p); err != nil {
						return
					}
				default:
					drained = true
				}
			}
			if out.err != nil {
				status, code := classify(out.err)
				if err := writeSSEJSON(w, "error", map[string]any{"error": out.err.Error(), "code": code, "status": status}); err != nil {
					h.logger.Warn("failed to write SSE error event", "error", err, "token", tok)
				}
				flusher.Flush()
				return
			}
			if err := writeSSEJSON(w, "result", out.res); err != nil {
				h.logger.Warn("failed to write SSE result event", "error", err, "token", tok)
			}
			flusher.Flush()
			return
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				h.logger.Warn("failed to write SSE keepalive ping", "error", err, "token", tok)
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			h.logger.Info("SSE client disconnected before result", "token", tok)
			return
		}
	}
}

// StreamEvents handles GET /api/interviews/{token}/events: turn and
// completion events of one session until the client disconnects.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	tok := token.FromContext(r.Context())
	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	feed, err := h.watcher.Watch(ctx, tok)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if _, err := fmt.Fprintf(w, "retry: %d\n\n", h.opts.RetryDelay.Milliseconds()); err != nil {
		h.logger.Warn("failed to write SSE retry header", "error", err, "token", tok)
		return
	}
	if err := writeSSE(w, "connected", fmt.Sprintf(`{"status":"connected","token":%q}`, tok)); err != nil {
		return
	}
	flusher.Flush()
	h.logger.Info("Event stream connected", "token", tok)

	keepalive := time.NewTicker(h.opts.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Event stream disconnected", "token", tok)
			return
		case e, ok := <-feed:
			if !ok {
				return
			}
			if err := writeSSEWithID(w, e.Step, e.Type, e); err != nil {
				h.logger.Warn("failed to write SSE event", "error", err, "token", tok)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				h.logger.Warn("failed to write SSE keepalive ping", "error", err, "token", tok)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEJSON(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeSSE(w, event, string(data))
}

func writeSSEWithID(w io.Writer, id int64, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
