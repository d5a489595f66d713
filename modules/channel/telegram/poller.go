package telegram

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	maxConsecutivePollingErrors = 5
	errorPauseDuration          = 30 * time.Second
)

// allowedUpdates limits the update types Telegram delivers.
var allowedUpdates = []string{"message"}

// Poller implements long-polling for receiving Telegram updates.
type Poller struct {
	client  *Client
	handle  func(ctx context.Context, update *Update)
	logger  *slog.Logger
	timeout int
	pause   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a Poller that passes every update to handle. timeout
// is the long-polling timeout in seconds.
func NewPoller(client *Client, handle func(ctx context.Context, update *Update), logger *slog.Logger, timeout int) *Poller {
	return &Poller{
		client:  client,
		handle:  handle,
		logger:  logger,
		timeout: timeout,
		pause:   errorPauseDuration,
	}
}

// Start launches the polling loop in a goroutine. It stops when ctx is
// cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
}

// Stop signals the polling loop to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	var offset int
	var consecutiveErrors int

	for ctx.Err() == nil {
		updates, err := p.client.GetUpdates(ctx, GetUpdatesRequest{
			Offset:         offset,
			Timeout:        p.timeout,
			AllowedUpdates: allowedUpdates,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutiveErrors++
			p.logger.Error("telegram: getUpdates failed",
				"error", err,
				"consecutive_errors", consecutiveErrors,
			)

			if consecutiveErrors >= maxConsecutivePollingErrors {
				p.logger.Warn("telegram: polling paused after consecutive errors",
					"pause", p.pause,
				)
				timer := time.NewTimer(p.pause)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
				consecutiveErrors = 0
			}
			continue
		}

		consecutiveErrors = 0

		for i := range updates {
			offset = updates[i].UpdateID + 1
			p.handle(ctx, &updates[i])
		}
	}
}
