package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/interviewd/internal/token"
	"github.com/ashureev/interviewd/internal/workflow"
)

// wsMessage is a client frame on the interview socket.
type wsMessage struct {
	Type   string `json:"type"`
	Answer string `json:"answer,omitempty"`
	Step   *int64 `json:"step,omitempty"`
}

// wsReply is a server frame on the interview socket.
type wsReply struct {
	Type     string             `json:"type"`
	Result   *workflow.Result   `json:"result,omitempty"`
	Progress *workflow.Progress `json:"progress,omitempty"`
	Error    string             `json:"error,omitempty"`
	Code     string             `json:"code,omitempty"`
}

const wsWriteTimeout = 10 * time.Second

// ServeWS handles GET /api/interviews/{token}/ws, a socket carrying one
// interview. On connect the server sends the current question or completion;
// each "answer" frame is answered with progress and "ping" frames and a
// "result".
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	tok := token.FromContext(r.Context())
	h.logger.Info("WebSocket connection request", "token", tok, "ip", r.RemoteAddr)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.AllowedOrigins,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "token", tok)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "interview ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "token", tok)
		}
	}()

	ctx := r.Context()
	res, err := h.engine.Advance(ctx, tok, nil)
	if err != nil {
		h.wsError(ctx, ws, err)
		return
	}
	if err := h.wsWrite(ctx, ws, wsReply{Type: "result", Result: &res}); err != nil {
		return
	}

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "token", tok)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "token", tok)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := h.wsWrite(ctx, ws, wsReply{Type: "error", Error: "invalid message", Code: "invalid_request"}); err != nil {
				return
			}
			continue
		}

		switch msg.Type {
		case "ping":
			if err := h.wsWrite(ctx, ws, wsReply{Type: "pong"}); err != nil {
				return
			}
		case "answer":
			if !h.limiter.Allow("answer:" + tok) {
				if err := h.wsWrite(ctx, ws, wsReply{Type: "error", Error: "rate limit exceeded", Code: "rate_limited"}); err != nil {
					return
				}
				continue
			}
			res, ok := h.wsContinue(ctx, ws, tok, msg)
			if !ok {
				return
			}
			if res.Done() {
				return
			}
		default:
			if err := h.wsWrite(ctx, ws, wsReply{Type: "error", Error: "unknown message type", Code: "invalid_request"}); err != nil {
				return
			}
		}
	}
}

// wsContinue applies one answer while sending its progress and a "ping"
// frame every keepalive interval. It reports false once the socket is
// unusable.
func (h *Handler) wsContinue(ctx context.Context, ws *websocket.Conn, tok string, msg wsMessage) (workflow.Result, bool) {
	progress := make(chan workflow.Progress, 16)
	done := make(chan callOutcome, 1)
	// The answer is applied even if the socket drops mid-call.
	callCtx := workflow.WithObserver(context.WithoutCancel(ctx), func(p workflow.Progress) {
		select {
		case progress <- p:
		default:
		}
	})
	go func() {
		res, err := h.engine.Continue(callCtx, workflow.ContinueRequest{Token: tok, Answer: msg.Answer, Step: msg.Step})
		done <- callOutcome{res: res, err: err}
	}()

	keepalive := time.NewTicker(h.opts.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case p := <-progress:
			if err := h.wsWrite(ctx, ws, wsReply{Type: "progress", Progress: &p}); err != nil {
				h.logger.Debug("Failed to send progress", "error", err, "token", tok)
				return workflow.Result{}, false
			}
		case <-keepalive.C:
			if err := h.wsWrite(ctx, ws, wsReply{Type: "ping"}); err != nil {
				h.logger.Debug("Failed to send keepalive", "error", err, "token", tok)
				return workflow.Result{}, false
			}
		case out := <-done:
			for drained := false; !drained; {
				select {
				case p := <-progress:
					if err := h.wsWrite(ctx, ws, wsReply{Type: "progress", Progress: &p}); err != nil {
						return workflow.Result{}, false
					}
				default:
					drained = true
				}
			}
			if out.err != nil {
				h.wsError(ctx, ws, out.err)
				return workflow.Result{}, true
			}
			if err := h.wsWrite(ctx, ws, wsReply{Type: "result", Result: &out.res}); err != nil {
				return workflow.Result{}, false
			}
			return out.res, true
		}
	}
}

func (h *Handler) wsError(ctx context.Context, ws *websocket.Conn, err error) {
	_, code := classify(err)
	if writeErr := h.wsWrite(ctx, ws, wsReply{Type: "error", Error: err.Error(), Code: code}); writeErr != nil {
		h.logger.Debug("Failed to send error frame", "error", writeErr)
	}
}

func (h *Handler) wsWrite(ctx context.Context, ws *websocket.Conn, v wsReply) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
