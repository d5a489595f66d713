package conversation

import (
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultMaxPromptBudget is the cost ceiling used when none is configured.
	DefaultMaxPromptBudget = 1000

	// DefaultShardCount is the number of lock shards when none is configured.
	DefaultShardCount = 32
)

// Observer receives notifications about store mutations. Callbacks run
// while the user's shard lock is held and must not call back into the Store.
type Observer interface {
	TurnRecorded(userID string, retained int)
	TurnsEvicted(userID string, evicted int)
	SessionCleared(userID string)
}

type nopObserver struct{}

func (nopObserver) TurnRecorded(string, int) {}
func (nopObserver) TurnsEvicted(string, int) {}
func (nopObserver) SessionCleared(string)    {}

// Config holds the configuration for a Store.
type Config struct {
	// MaxPromptBudget caps the cumulative cost of a user's retained turns.
	// Zero means DefaultMaxPromptBudget.
	MaxPromptBudget int

	// Preamble is the persona text prepended to every prompt. Optional.
	Preamble string

	// Counter measures turn cost. Nil means CharCounter.
	Counter TokenCounter

	// Shards is the number of independently locked partitions.
	// Zero means DefaultShardCount.
	Shards int

	// Observer is notified of mutations. Nil means no notifications.
	Observer Observer
}

// withDefaults returns a copy of the config with zero values replaced by defaults.
func (c Config) withDefaults() Config {
	if c.MaxPromptBudget <= 0 {
		c.MaxPromptBudget = DefaultMaxPromptBudget
	}
	if c.Counter == nil {
		c.Counter = CharCounter{}
	}
	if c.Shards <= 0 {
		c.Shards = DefaultShardCount
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	return c
}

// Store is the in-memory conversation cache, keyed by user ID.
//
// Users are spread over a fixed set of shards, each guarded by its own
// mutex. Every mutation of one user's session happens under that user's
// shard lock, so concurrent replies for the same user cannot interleave,
// while users on different shards never contend. A missing entry is
// equivalent to an empty session.
type Store struct {
	shards   []shard
	budget   int
	preamble string
	counter  TokenCounter
	observer Observer
}

type shard struct {
	mu       sync.Mutex
	sessions map[string][]Turn
}

// NewStore creates a ready-to-use Store.
func NewStore(cfg Config) *Store {
	cfg = cfg.withDefaults()

	shards := make([]shard, cfg.Shards)
	for i := range shards {
		shards[i].sessions = make(map[string][]Turn)
	}

	return &Store{
		shards:   shards,
		budget:   cfg.MaxPromptBudget,
		preamble: cfg.Preamble,
		counter:  cfg.Counter,
		observer: cfg.Observer,
	}
}

// shardFor returns the shard owning userID.
func (s *Store) shardFor(userID string) *shard {
	return &s.shards[xxhash.Sum64String(userID)%uint64(len(s.shards))]
}

// BuildPrompt renders the prompt for query using the user's current
// session and the configured preamble. It does not mutate state.
func (s *Store) BuildPrompt(userID, query string) string {
	sh := s.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return Render(sh.sessions[userID], s.preamble, query)
}

// RecordTurn appends a turn to the user's session, creating the session
// if needed, then evicts older turns that no longer fit the budget.
// Empty questions or answers are recorded as given.
func (s *Store) RecordTurn(userID, question, answer string) {
	sh := s.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	turns := append(sh.sessions[userID], Turn{Question: question, Answer: answer})
	turns, evicted := s.evict(turns)
	sh.sessions[userID] = turns

	s.observer.TurnRecorded(userID, len(turns))
	if evicted > 0 {
		s.observer.TurnsEvicted(userID, evicted)
	}
}

// Clear empties the user's session. Clearing an absent or already empty
// session is a no-op.
func (s *Store) Clear(userID string) {
	sh := s.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.sessions[userID]; !ok {
		return
	}
	delete(sh.sessions, userID)
	s.observer.SessionCleared(userID)
}

// Turns returns a copy of the user's session, oldest first.
// It returns nil when the user has no session.
func (s *Store) Turns(userID string) []Turn {
	sh := s.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return slices.Clone(sh.sessions[userID])
}

// Cost returns the total cost of the user's retained turns.
func (s *Store) Cost(userID string) int {
	sh := s.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	total := 0
	for _, t := range sh.sessions[userID] {
		total += t.Cost(s.counter)
	}
	return total
}

// Len returns the number of users with a non-empty session.
// Shards are locked one at a time, so the count is not a global snapshot.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}

// Budget returns the configured cost ceiling.
func (s *Store) Budget() int {
	return s.budget
}

// evict drops the oldest turns that push the session over budget.
//
// It walks from the newest turn backwards, accumulating cost. At the first
// position where the running sum exceeds the budget, that turn and every
// older turn are dropped. The newest turn always survives, even when its
// own cost exceeds the budget. Returns the retained turns and the number
// evicted. The caller must hold the shard lock.
func (s *Store) evict(turns []Turn) ([]Turn, int) {
	if len(turns) <= 1 {
		return turns, 0
	}

	newest := len(turns) - 1
	sum := 0
	for i := newest; i >= 0; i-- {
		sum += turns[i].Cost(s.counter)
		if sum <= s.budget {
			continue
		}
		cut := i + 1
		if i == newest {
			cut = newest
		}
		// Copy so the dropped prefix can be collected.
		return slices.Clone(turns[cut:]), cut
	}
	return turns, 0
}
