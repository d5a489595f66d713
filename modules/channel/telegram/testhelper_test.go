package telegram

import (
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

// sentPhoto records a sendPhoto upload.
type sentPhoto struct {
	ChatID  string
	Caption string
	Data    []byte
}

// fakeBot is an in-memory Bot API. getUpdates serves queued updates once.
type fakeBot struct {
	t   *testing.T
	srv *httptest.Server

	mu      sync.Mutex
	updates []Update
	calls   map[string]int
	sent    []SendMessageRequest
	edits   []EditMessageTextRequest
	photos  []sentPhoto
	actions []string
	nextID  int
}

func newFakeBot(t *testing.T, updates ...Update) *fakeBot {
	t.Helper()
	b := &fakeBot{t: t, updates: updates, calls: map[string]int{}, nextID: 100}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBot) URL() string { return b.srv.URL }

func (b *fakeBot) serve(w http.ResponseWriter, r *http.Request) {
	method := path.Base(r.URL.Path)

	b.mu.Lock()
	b.calls[method]++
	b.mu.Unlock()

	switch method {
	case "getMe":
		writeJSON(b.t, w, APIResponse[User]{OK: true, Result: User{ID: 1, IsBot: true, FirstName: "Parley", Username: "parley_bot"}})

	case "getUpdates":
		b.mu.Lock()
		updates := b.updates
		b.updates = nil
		b.mu.Unlock()
		if updates == nil {
			updates = []Update{}
		}
		writeJSON(b.t, w, APIResponse[[]Update]{OK: true, Result: updates})

	case "deleteWebhook", "setWebhook":
		writeJSON(b.t, w, APIResponse[bool]{OK: true, Result: true})

	case "sendChatAction":
		var req sendChatActionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		b.actions = append(b.actions, req.Action)
		b.mu.Unlock()
		writeJSON(b.t, w, APIResponse[bool]{OK: true, Result: true})

	case "sendMessage":
		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			b.t.Errorf("decode sendMessage: %v", err)
		}
		b.mu.Lock()
		b.sent = append(b.sent, req)
		b.nextID++
		id := b.nextID
		b.mu.Unlock()
		writeJSON(b.t, w, APIResponse[Message]{OK: true, Result: Message{MessageID: id, Chat: Chat{ID: req.ChatID}, Text: req.Text}})

	case "editMessageText":
		var req EditMessageTextRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			b.t.Errorf("decode editMessageText: %v", err)
		}
		b.mu.Lock()
		b.edits = append(b.edits, req)
		b.mu.Unlock()
		writeJSON(b.t, w, APIResponse[Message]{OK: true, Result: Message{MessageID: req.MessageID, Chat: Chat{ID: req.ChatID}, Text: req.Text}})

	case "sendPhoto":
		photo := b.readPhoto(r)
		b.mu.Lock()
		b.photos = append(b.photos, photo)
		b.mu.Unlock()
		writeJSON(b.t, w, APIResponse[Message]{OK: true, Result: Message{MessageID: 1}})

	default:
		b.t.Errorf("unexpected Bot API method %q", method)
		http.NotFound(w, r)
	}
}

func (b *fakeBot) readPhoto(r *http.Request) sentPhoto {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		b.t.Errorf("sendPhoto content type: %v", err)
		return sentPhoto{}
	}
	var p sentPhoto
	mr := multipart.NewReader(r.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		data, _ := io.ReadAll(part)
		switch part.FormName() {
		case "chat_id":
			p.ChatID = string(data)
		case "caption":
			p.Caption = string(data)
		case "photo":
			p.Data = data
		}
	}
	return p
}

func (b *fakeBot) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

// Texts returns the text of every sent message, in order.
func (b *fakeBot) Texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.sent))
	for i, m := range b.sent {
		out[i] = m.Text
	}
	return out
}

func (b *fakeBot) Edits() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.edits))
	for i, m := range b.edits {
		out[i] = m.Text
	}
	return out
}

func (b *fakeBot) Photos() []sentPhoto {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentPhoto(nil), b.photos...)
}

func (b *fakeBot) Actions() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.actions, ",")
}
