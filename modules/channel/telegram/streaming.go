package telegram

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const streamPlaceholder = "…" // Ellipsis character

// minFlushDelta is the minimum byte delta before flushing an edit early.
const minFlushDelta = 200

// maxStreamFlushErrors disables streaming after that many failed edits in a row.
const maxStreamFlushErrors = 5

// streamingEnabled reports whether replies are currently streamed.
func (t *Telegram) streamingEnabled() bool {
	return t.config.Stream && !t.streamingDisabled.Load()
}

// sendStream delivers fragments by editing a placeholder message. Text
// beyond the message limit is sent as follow-up messages once the stream
// closes.
func (t *Telegram) sendStream(ctx context.Context, chatID int64, threadID int, stream <-chan string) error {
	placeholder, err := t.client.SendMessage(ctx, SendMessageRequest{
		ChatID:          chatID,
		Text:            streamPlaceholder,
		MessageThreadID: threadID,
	})
	if err != nil {
		// Keep draining so the producer never blocks.
		for range stream {
		}
		return err
	}

	var buf strings.Builder
	lastFlushed := 0
	overflow := false
	var consecutiveFlushErrors int
	maxLen := t.config.MaxMessageLength

	ticker := time.NewTicker(t.config.StreamFlushInterval)
	defer ticker.Stop()

	edit := func(text string) error {
		_, err := t.client.EditMessageText(ctx, EditMessageTextRequest{
			ChatID:    chatID,
			MessageID: placeholder.MessageID,
			Text:      text,
		})
		return err
	}

	flush := func() {
		text := buf.String()
		if len(text) > maxLen {
			text = truncateUTF8(text, maxLen)
		}
		if text == "" || len(text) == lastFlushed {
			return
		}
		editErr := edit(text)
		if editErr != nil {
			var apiErr *APIError
			if errors.As(editErr, &apiErr) {
				if apiErr.Code == 400 && strings.Contains(apiErr.Description, "not modified") {
					lastFlushed = len(text)
					return
				}
				if apiErr.RetryAfter > 0 {
					timer := time.NewTimer(time.Duration(apiErr.RetryAfter) * time.Second)
					select {
					case <-ctx.Done():
						timer.Stop()
						return
					case <-timer.C:
					}
					if edit(text) == nil {
						lastFlushed = len(text)
						consecutiveFlushErrors = 0
					}
					return
				}
			}
			consecutiveFlushErrors++
			t.logger.Warn("telegram: streaming edit failed",
				"error", editErr,
				"chat_id", chatID,
				"consecutive_errors", consecutiveFlushErrors,
			)
			if consecutiveFlushErrors >= maxStreamFlushErrors {
				t.streamingDisabled.Store(true)
				t.logger.Warn("telegram: streaming disabled due to repeated errors",
					"chat_id", chatID,
				)
			}
			return
		}
		lastFlushed = len(text)
		consecutiveFlushErrors = 0
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			for range stream {
			}
			return ctx.Err()

		case chunk, ok := <-stream:
			if !ok {
				flush()
				if overflow {
					return t.sendChunks(ctx, chatID, threadID, buf.String()[lastFlushed:])
				}
				return nil
			}

			buf.WriteString(chunk)

			if overflow {
				continue
			}
			if buf.Len() > maxLen {
				overflow = true
				flush()
			} else if buf.Len()-lastFlushed >= minFlushDelta {
				flush()
			}

		case <-ticker.C:
			if !overflow {
				flush()
			}
		}
	}
}

// truncateUTF8 truncates s to at most maxBytes, walking back to a valid
// UTF-8 rune boundary to avoid producing invalid UTF-8.
func truncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
