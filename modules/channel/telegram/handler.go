package telegram

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"

	"github.com/flemzord/parley/internal/assistant"
)

// maxCaptionLength is the Bot API limit for photo captions.
const maxCaptionLength = 1024

// handleUpdate answers one update.
func (t *Telegram) handleUpdate(ctx context.Context, update *Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.IsBot || strings.TrimSpace(msg.Text) == "" {
		return
	}

	if !t.allowList.IsAllowed(msg) {
		t.logger.Debug("telegram: update denied by allow list",
			"update_id", update.UpdateID,
			"sender", msg.From.ID,
			"chat", msg.Chat.ID,
		)
		return
	}

	text, ok := t.addressed(msg)
	if !ok {
		return
	}

	logger := t.logger.With("chat_id", msg.Chat.ID, "update_id", update.UpdateID)
	userID := UserID(msg.Chat.ID)

	cmd, arg, ok := parseCommand(text, t.botUsername())
	if !ok {
		return
	}
	switch cmd {
	case "/start", "/help":
		t.sendText(ctx, logger, msg, t.config.Greeting)
	case "/clear":
		t.replyText(ctx, logger, msg, assistant.Request{Query: t.replier.ClearCommand(), UserID: userID, Kind: assistant.KindText})
	case "/image":
		if arg == "" {
			t.sendText(ctx, logger, msg, "Usage: /image <description>")
			return
		}
		t.replyImage(ctx, logger, msg, assistant.Request{Query: arg, UserID: userID, Kind: assistant.KindImageCreate})
	default:
		t.replyText(ctx, logger, msg, assistant.Request{Query: text, UserID: userID, Kind: assistant.KindText})
	}
}

// addressed returns the text meant for the bot. Private chats always
// address the bot; in groups only commands and @mentions do, and the
// mention is stripped.
func (t *Telegram) addressed(msg *Message) (string, bool) {
	text := strings.TrimSpace(msg.Text)
	if msg.Chat.IsPrivate() || strings.HasPrefix(text, "/") {
		return text, true
	}

	name := t.botUsername()
	if name == "" {
		return "", false
	}
	mention := "@" + name
	idx := strings.Index(strings.ToLower(text), strings.ToLower(mention))
	if idx < 0 {
		return "", false
	}
	text = strings.TrimSpace(text[:idx] + text[idx+len(mention):])
	return text, text != ""
}

func (t *Telegram) botUsername() string {
	if t.botUser == nil {
		return ""
	}
	return t.botUser.Username
}

// parseCommand splits "/cmd@bot rest" into ("/cmd", "rest"). Plain text
// returns an empty command. ok is false for commands addressed to another bot.
func parseCommand(text, botUsername string) (cmd, arg string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", text, true
	}
	head, rest, _ := strings.Cut(text, " ")
	cmd, target, found := strings.Cut(head, "@")
	if found && !strings.EqualFold(target, botUsername) {
		return "", "", false
	}
	return strings.ToLower(cmd), strings.TrimSpace(rest), true
}

// replyText answers a text request, streamed or in one piece.
func (t *Telegram) replyText(ctx context.Context, logger *slog.Logger, msg *Message, req assistant.Request) {
	t.typing(ctx, logger, msg.Chat.ID, "typing")

	if t.streamingEnabled() {
		t.replyStream(ctx, logger, msg, req)
		return
	}

	resp, err := t.replier.Reply(ctx, req)
	if err != nil {
		t.replyFailed(ctx, logger, msg, err)
		return
	}
	if err := t.sendChunks(ctx, msg.Chat.ID, msg.MessageThreadID, resp.Text); err != nil {
		logger.Error("telegram: send reply failed", "error", err)
	}
}

func (t *Telegram) replyStream(ctx context.Context, logger *slog.Logger, msg *Message, req assistant.Request) {
	fragments := make(chan string, 16)
	sent := make(chan error, 1)
	go func() {
		sent <- t.sendStream(ctx, msg.Chat.ID, msg.MessageThreadID, fragments)
	}()

	_, err := t.replier.ReplyStream(ctx, req, func(fragment string) error {
		select {
		case fragments <- fragment:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	close(fragments)

	if sendErr := <-sent; sendErr != nil && !errors.Is(sendErr, context.Canceled) {
		logger.Error("telegram: stream reply failed", "error", sendErr)
	}
	if err != nil {
		t.replyFailed(ctx, logger, msg, err)
	}
}

// replyImage answers an image request with a photo, or with the apology
// text when the provider kept rate limiting.
func (t *Telegram) replyImage(ctx context.Context, logger *slog.Logger, msg *Message, req assistant.Request) {
	t.typing(ctx, logger, msg.Chat.ID, "upload_photo")

	resp, err := t.replier.Reply(ctx, req)
	if err != nil {
		t.replyFailed(ctx, logger, msg, err)
		return
	}
	if resp.Image == "" {
		t.sendText(ctx, logger, msg, resp.Text)
		return
	}

	data, err := base64.StdEncoding.DecodeString(resp.Image)
	if err != nil {
		t.replyFailed(ctx, logger, msg, err)
		return
	}
	if _, err := t.client.SendPhoto(ctx, SendPhotoRequest{
		ChatID:          msg.Chat.ID,
		Photo:           data,
		Caption:         truncateUTF8(req.Query, maxCaptionLength),
		MessageThreadID: msg.MessageThreadID,
	}); err != nil {
		logger.Error("telegram: send photo failed", "error", err)
	}
}

// replyFailed tells the user something went wrong. Cancellation is silent.
func (t *Telegram) replyFailed(ctx context.Context, logger *slog.Logger, msg *Message, err error) {
	if ctx.Err() != nil {
		return
	}
	logger.Warn("telegram: reply failed", "error", err)
	t.sendText(ctx, logger, msg, t.config.ErrorReply)
}

func (t *Telegram) sendText(ctx context.Context, logger *slog.Logger, msg *Message, text string) {
	if err := t.sendChunks(ctx, msg.Chat.ID, msg.MessageThreadID, text); err != nil {
		logger.Error("telegram: send message failed", "error", err)
	}
}

// sendChunks sends text split to the message length limit.
func (t *Telegram) sendChunks(ctx context.Context, chatID int64, threadID int, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	for _, chunk := range SplitText(text, t.config.MaxMessageLength) {
		if _, err := t.client.SendMessage(ctx, SendMessageRequest{
			ChatID:          chatID,
			Text:            chunk,
			MessageThreadID: threadID,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) typing(ctx context.Context, logger *slog.Logger, chatID int64, action string) {
	if err := t.client.SendChatAction(ctx, chatID, action); err != nil {
		logger.Debug("telegram: chat action failed", "error", err)
	}
}
