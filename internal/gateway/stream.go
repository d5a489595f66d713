package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// handleStream answers POST /api/stream with server-sent events: one
// unnamed event per fragment, then a "done" event carrying the full
// answer, or an "error" event.
func (g *Gateway) handleStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := g.decodeChat(w, r, true)
		if !ok {
			return
		}

		rc := http.NewResponseController(w)
		// Streams may outlive the server write timeout.
		_ = rc.SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		send := func(event string, v any) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			if event != "" {
				if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return err
			}
			return rc.Flush()
		}

		resp, err := g.assistant.ReplyStream(r.Context(), req, func(fragment string) error {
			return send("", chatResponse{Content: fragment})
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			g.logger.Warn("gateway: stream failed",
				"request_id", requestIDFrom(r.Context()),
				"user_id", req.UserID,
				"error", err,
			)
			_ = send("error", errorResponse{Error: http.StatusText(statusFor(err)), RequestID: requestIDFrom(r.Context())})
			return
		}

		_ = send("done", chatResponse{Content: resp.Text, PictureData: resp.Image})
	}
}
