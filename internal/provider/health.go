package provider

import (
	"sync"
	"time"
)

// HealthState is the availability of a provider as seen by the chain.
type HealthState int

// Health states.
const (
	StateHealthy  HealthState = iota
	StateCooldown             // transient failure, backing off
	StateDead                 // too many consecutive failures
)

// String returns a human-readable label for the health state.
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateCooldown:
		return "cooldown"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// MarshalText lets health states render as labels in JSON reports.
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// HealthConfig controls health tracking behavior.
type HealthConfig struct {
	// InitialBackoff is the cooldown after the first failure. Default: 1s.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the exponential backoff. Default: 60s.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// MaxFailures is the number of consecutive failures before the
	// provider is marked dead. Default: 5.
	MaxFailures int `yaml:"max_failures"`

	// CheckInterval is how often dead or cooled-down providers are probed.
	// Default: 10s.
	CheckInterval time.Duration `yaml:"check_interval"`
}

// defaults fills zero-value fields.
func (c *HealthConfig) defaults() {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 60 * time.Second
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 10 * time.Second
	}
}

// HealthStatus is a point-in-time view of one provider's health.
type HealthStatus struct {
	Name     string      `json:"name"`
	Model    string      `json:"model"`
	State    HealthState `json:"state"`
	Failures int         `json:"failures"`
	Backoff  string      `json:"backoff,omitempty"`
}

// healthTracker monitors the availability of a single provider with
// exponential backoff, marking it dead after MaxFailures in a row.
type healthTracker struct {
	cfg HealthConfig

	// onStateChange runs outside the lock on every transition.
	onStateChange func(from, to HealthState)

	mu       sync.Mutex
	state    HealthState
	failures int
	backoff  time.Duration
	until    time.Time

	now func() time.Time
}

func newHealthTracker(cfg HealthConfig) *healthTracker {
	cfg.defaults()
	return &healthTracker{cfg: cfg, now: time.Now}
}

// available reports whether the provider can take a request. A provider
// in cooldown becomes available again once its backoff has elapsed.
func (h *healthTracker) available() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateHealthy:
		return true
	case StateCooldown:
		return !h.now().Before(h.until)
	default:
		return false
	}
}

// needsProbe reports whether an active health check should run.
func (h *healthTracker) needsProbe() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateDead:
		return true
	case StateCooldown:
		return !h.now().Before(h.until)
	default:
		return false
	}
}

func (h *healthTracker) success() {
	h.mu.Lock()
	prev := h.state
	h.state = StateHealthy
	h.failures = 0
	h.backoff = 0
	h.mu.Unlock()

	h.notify(prev, StateHealthy)
}

func (h *healthTracker) failure() {
	h.mu.Lock()
	prev := h.state
	h.failures++

	if h.failures >= h.cfg.MaxFailures {
		h.state = StateDead
	} else {
		h.state = StateCooldown
		h.backoff = min(max(h.backoff*2, h.cfg.InitialBackoff), h.cfg.MaxBackoff)
		h.until = h.now().Add(h.backoff)
	}
	next := h.state
	h.mu.Unlock()

	h.notify(prev, next)
}

func (h *healthTracker) notify(from, to HealthState) {
	if from != to && h.onStateChange != nil {
		h.onStateChange(from, to)
	}
}

// snapshot returns the tracker's current state, failure count and backoff.
func (h *healthTracker) snapshot() (HealthState, int, time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state, h.failures, h.backoff
}
