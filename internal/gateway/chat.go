package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/flemzord/parley/internal/assistant"
	"github.com/flemzord/parley/internal/provider"
	"github.com/flemzord/parley/internal/security"
)

// chatRequest is the body of every chat endpoint.
type chatRequest struct {
	Msg         string `json:"msg"`
	UID         string `json:"uid"`
	RequestType string `json:"request_type,omitempty"`
}

// chatResponse is the JSON answer. Content carries text, PictureData a
// base64 image.
type chatResponse struct {
	Content     string `json:"content,omitempty"`
	PictureData string `json:"picture_data,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// handleText answers POST /api/text.
func (g *Gateway) handleText() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := g.decodeChat(w, r, true)
		if !ok {
			return
		}
		resp, err := g.assistant.Reply(r.Context(), req)
		if err != nil {
			g.replyError(w, r, req, err)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Content: resp.Text, PictureData: resp.Image})
	}
}

// handlePicture answers POST /api/picture. The message is the image prompt.
func (g *Gateway) handlePicture() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := g.decodeChat(w, r, true)
		if !ok {
			return
		}
		req.Kind = assistant.KindImageCreate
		resp, err := g.assistant.Reply(r.Context(), req)
		if err != nil {
			g.replyError(w, r, req, err)
			return
		}
		// A rate-limited image request carries the apology as text.
		writeJSON(w, http.StatusOK, chatResponse{Content: resp.Text, PictureData: resp.Image})
	}
}

// handleSignOut clears the caller's conversation memory.
func (g *Gateway) handleSignOut() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := g.decodeChat(w, r, false)
		if !ok {
			return
		}
		g.assistant.ClearMemory(req.UserID)
		writeJSON(w, http.StatusOK, chatResponse{Content: "success"})
	}
}

// decodeChat parses and validates a chat body. needMsg requires a
// non-empty message. On failure the error response is already written.
func (g *Gateway) decodeChat(w http.ResponseWriter, r *http.Request, needMsg bool) (assistant.Request, bool) {
	var body chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, g.config.MaxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return assistant.Request{}, false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return assistant.Request{}, false
	}

	body.UID = strings.TrimSpace(body.UID)
	if body.UID == "" {
		writeError(w, http.StatusBadRequest, "uid is required")
		return assistant.Request{}, false
	}
	if needMsg && strings.TrimSpace(body.Msg) == "" {
		writeError(w, http.StatusBadRequest, "msg is required")
		return assistant.Request{}, false
	}

	kind, err := assistant.ParseKind(body.RequestType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return assistant.Request{}, false
	}

	if err := g.limiter.Allow(body.UID); err != nil {
		g.logger.Warn("gateway: rate limited", "user_id", body.UID, "request_id", requestIDFrom(r.Context()))
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return assistant.Request{}, false
	}

	return assistant.Request{Query: body.Msg, UserID: body.UID, Kind: kind}, true
}

// replyError maps an assistant error to an HTTP status.
func (g *Gateway) replyError(w http.ResponseWriter, r *http.Request, req assistant.Request, err error) {
	if errors.Is(err, context.Canceled) {
		// The client went away; nobody is listening for a response.
		return
	}

	status := statusFor(err)
	g.logger.Warn("gateway: reply failed",
		"request_id", requestIDFrom(r.Context()),
		"user_id", req.UserID,
		"status", status,
		"error", err,
	)
	writeJSON(w, status, errorResponse{Error: http.StatusText(status), RequestID: requestIDFrom(r.Context())})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, assistant.ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, security.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, provider.ErrImageUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, provider.ErrAllProviders), errors.Is(err, provider.ErrProviderDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
