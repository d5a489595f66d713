package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/flemzord/parley/internal/assistant"
)

// Replier answers chat messages. *assistant.Assistant implements it.
type Replier interface {
	Reply(ctx context.Context, req assistant.Request) (assistant.Response, error)
	ReplyStream(ctx context.Context, req assistant.Request, onFragment assistant.FragmentFunc) (assistant.Response, error)
	ClearCommand() string
}

var _ Replier = (*assistant.Assistant)(nil)

// secretHeader carries the webhook secret set with setWebhook.
const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// UserID returns the conversation key of a Telegram chat.
func UserID(chatID int64) string {
	return "telegram:" + strconv.FormatInt(chatID, 10)
}

// Telegram is the Telegram bot channel.
type Telegram struct {
	config    Config
	client    *Client
	replier   Replier
	logger    *slog.Logger
	allowList *AllowList
	botUser   *User

	streamingDisabled atomic.Bool

	mu      sync.Mutex
	poller  *Poller
	ctx     context.Context
	cancel  context.CancelFunc
	sem     chan struct{}
	pending sync.WaitGroup
}

// New creates a Telegram channel. cfg is completed with Defaults.
func New(cfg Config, r Replier, logger *slog.Logger) *Telegram {
	cfg.Defaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Telegram{
		config:    cfg,
		client:    NewClient(cfg.Token, cfg.APIURL),
		replier:   r,
		logger:    logger,
		allowList: NewAllowList(cfg.AllowUsers, cfg.AllowGroups),
		sem:       make(chan struct{}, cfg.MaxConcurrent),
	}
}

// WebhookPath returns the gateway path the webhook handler should be mounted on.
func (t *Telegram) WebhookPath() string {
	return t.config.WebhookPath
}

// Start validates the bot token, then starts polling or registers the
// webhook. Updates are handled until Stop is called.
func (t *Telegram) Start(ctx context.Context) error {
	user, err := t.client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram: getMe failed (check token): %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.botUser = user
	t.ctx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))
	t.logger.Info("telegram: bot authenticated",
		"id", user.ID,
		"username", user.Username,
	)

	switch t.config.Mode {
	case ModeWebhook:
		if t.config.WebhookSecret == "" {
			t.logger.Warn("telegram: webhook running without webhook_secret")
		}
		if err := t.client.SetWebhook(ctx, SetWebhookRequest{
			URL:            t.config.WebhookURL,
			SecretToken:    t.config.WebhookSecret,
			AllowedUpdates: allowedUpdates,
		}); err != nil {
			t.cancel()
			return fmt.Errorf("telegram: setWebhook failed: %w", err)
		}
		t.logger.Info("telegram: webhook configured", "url", t.config.WebhookURL)

	default:
		// getUpdates is refused while a webhook is set.
		if err := t.client.DeleteWebhook(ctx); err != nil {
			t.logger.Warn("telegram: deleteWebhook failed", "error", err)
		}
		t.poller = NewPoller(t.client, t.dispatch, t.logger, t.config.PollingTimeout)
		t.poller.Start(t.ctx)
		t.logger.Info("telegram: polling started", "timeout", t.config.PollingTimeout)
	}

	return nil
}

// Stop stops receiving updates and waits for in-flight replies.
func (t *Telegram) Stop(ctx context.Context) error {
	t.mu.Lock()
	poller, cancel := t.poller, t.cancel
	t.poller, t.cancel, t.ctx = nil, nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}
	t.logger.Info("telegram: stopping")

	if poller != nil {
		poller.Stop()
	} else if err := t.client.DeleteWebhook(ctx); err != nil {
		t.logger.Warn("telegram: failed to delete webhook on shutdown", "error", err)
	}

	done := make(chan struct{})
	go func() {
		t.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// WebhookHandler receives updates pushed by Telegram. It answers
// immediately and replies in the background.
func (t *Telegram) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t.config.WebhookSecret != "" {
			token := r.Header.Get(secretHeader)
			if subtle.ConstantTimeCompare([]byte(t.config.WebhookSecret), []byte(token)) != 1 {
				http.Error(w, "invalid secret token", http.StatusUnauthorized)
				return
			}
		}

		var update Update
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&update); err != nil {
			http.Error(w, "invalid update", http.StatusBadRequest)
			return
		}

		t.mu.Lock()
		started := t.ctx != nil
		t.mu.Unlock()
		if !started {
			http.Error(w, "telegram channel not started", http.StatusServiceUnavailable)
			return
		}

		t.dispatch(r.Context(), &update)
		w.WriteHeader(http.StatusOK)
	})
}

// dispatch handles an update in its own goroutine, bounded by
// max_concurrent. ctx only bounds the wait for a free slot; the reply runs
// under the channel's context so Stop can let it finish.
func (t *Telegram) dispatch(ctx context.Context, update *Update) {
	t.mu.Lock()
	base := t.ctx
	if base != nil {
		t.pending.Add(1)
	}
	t.mu.Unlock()
	if base == nil {
		return
	}

	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		t.pending.Done()
		return
	}

	go func() {
		defer t.pending.Done()
		defer func() { <-t.sem }()
		t.handleUpdate(base, update)
	}()
}
