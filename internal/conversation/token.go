// Package conversation implements the per-user conversation cache: turns,
// cost accounting, prompt rendering, and budget-driven eviction of old turns.
package conversation

import (
	"fmt"
	"math"
	"unicode/utf8"
)

// TokenCounter estimates the cost of a piece of text.
// Implementations must be pure and monotone: a longer text never costs
// less than a shorter one, otherwise eviction is not well-defined.
type TokenCounter interface {
	Cost(text string) int
}

// CharCounter charges one unit per character (Unicode code point).
type CharCounter struct{}

// Cost returns the number of characters in text.
func (CharCounter) Cost(text string) int {
	return utf8.RuneCountInString(text)
}

// RatioCounter approximates model tokens with a characters-per-token ratio.
// A ratio of ~4 works well for English; CJK text is closer to 1.
type RatioCounter struct {
	CharsPerToken float64
}

// NewRatioCounter creates a RatioCounter with the given ratio.
// If charsPerToken is <= 0, defaults to 4.0.
func NewRatioCounter(charsPerToken float64) *RatioCounter {
	if charsPerToken <= 0 {
		charsPerToken = 4.0
	}
	return &RatioCounter{CharsPerToken: charsPerToken}
}

// Cost returns the estimated token count, rounded up so that any
// non-empty text costs at least one token.
func (c *RatioCounter) Cost(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / c.CharsPerToken))
}

// Counter kinds accepted by NewCounter.
const (
	CounterChars = "chars"
	CounterRatio = "ratio"
)

// NewCounter builds a TokenCounter from its configured kind.
// An empty kind selects CounterChars.
func NewCounter(kind string, charsPerToken float64) (TokenCounter, error) {
	switch kind {
	case "", CounterChars:
		return CharCounter{}, nil
	case CounterRatio:
		return NewRatioCounter(charsPerToken), nil
	default:
		return nil, fmt.Errorf("conversation: unknown counter %q", kind)
	}
}
