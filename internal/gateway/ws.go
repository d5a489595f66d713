package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/flemzord/parley/internal/assistant"
)

// wsMessageType identifies a WebSocket frame of the chat protocol.
type wsMessageType string

// Chat protocol frame types.
const (
	wsMsgMessage  wsMessageType = "message"  // client -> server
	wsMsgClear    wsMessageType = "clear"    // client -> server
	wsMsgFragment wsMessageType = "fragment" // server -> client
	wsMsgDone     wsMessageType = "done"     // server -> client
	wsMsgError    wsMessageType = "error"    // server -> client
)

// wsFrame is the wire format for all WebSocket messages.
type wsFrame struct {
	Type        wsMessageType `json:"type"`
	ID          string        `json:"id,omitempty"`
	Msg         string        `json:"msg,omitempty"`
	RequestType string        `json:"request_type,omitempty"`
	Content     string        `json:"content,omitempty"`
	PictureData string        `json:"picture_data,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// handleWebSocket serves GET /ws?uid=<user>. Each message frame is answered
// with fragment frames followed by a done frame. Messages on one
// connection are handled in order.
func (g *Gateway) handleWebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.URL.Query().Get("uid"))
		if uid == "" {
			writeError(w, http.StatusBadRequest, "uid is required")
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			g.logger.Error("gateway: websocket accept failed", "error", err)
			return
		}
		defer func() {
			_ = conn.Close(websocket.StatusInternalError, "unexpected close")
		}()

		logger := g.logger.With("user_id", uid, "request_id", requestIDFrom(r.Context()))
		logger.Info("gateway: websocket connected")

		err = g.wsReadLoop(r.Context(), conn, uid)
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			logger.Info("gateway: websocket closed")
			_ = conn.Close(websocket.StatusNormalClosure, "")
		default:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("gateway: websocket error", "error", err)
			}
		}
	}
}

func (g *Gateway) wsReadLoop(ctx context.Context, conn *websocket.Conn, uid string) error {
	for {
		var in wsFrame
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			return err
		}

		switch in.Type {
		case wsMsgClear:
			g.assistant.ClearMemory(uid)
			if err := wsjson.Write(ctx, conn, wsFrame{Type: wsMsgDone, ID: in.ID}); err != nil {
				return err
			}

		case wsMsgMessage:
			if err := g.wsReply(ctx, conn, uid, in); err != nil {
				return err
			}

		default:
			if err := wsjson.Write(ctx, conn, wsFrame{Type: wsMsgError, ID: in.ID, Error: "unknown frame type"}); err != nil {
				return err
			}
		}
	}
}

// wsReply answers one message frame. Only write failures are returned;
// reply errors are reported to the client as error frames.
func (g *Gateway) wsReply(ctx context.Context, conn *websocket.Conn, uid string, in wsFrame) error {
	fail := func(msg string) error {
		return wsjson.Write(ctx, conn, wsFrame{Type: wsMsgError, ID: in.ID, Error: msg})
	}

	if strings.TrimSpace(in.Msg) == "" {
		return fail("msg is required")
	}
	kind, err := assistant.ParseKind(in.RequestType)
	if err != nil {
		return fail(err.Error())
	}
	if err := g.limiter.Allow(uid); err != nil {
		return fail("too many requests")
	}

	var writeErr error
	req := assistant.Request{Query: in.Msg, UserID: uid, Kind: kind}
	resp, err := g.assistant.ReplyStream(ctx, req, func(fragment string) error {
		writeErr = wsjson.Write(ctx, conn, wsFrame{Type: wsMsgFragment, ID: in.ID, Content: fragment})
		return writeErr
	})
	if writeErr != nil {
		return writeErr
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.logger.Warn("gateway: websocket reply failed", "user_id", uid, "error", err)
		return fail(http.StatusText(statusFor(err)))
	}

	return wsjson.Write(ctx, conn, wsFrame{Type: wsMsgDone, ID: in.ID, Content: resp.Text, PictureData: resp.Image})
}
