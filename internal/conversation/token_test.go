package conversation_test

import (
	"strings"
	"testing"

	"github.com/flemzord/parley/internal/conversation"
)

func TestCharCounter_Cost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"ascii", "hello", 5},
		{"multibyte counts characters", "你好", 2},
		{"mixed", "hi 世界", 5},
	}

	var c conversation.CharCounter
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := c.Cost(tt.text); got != tt.want {
				t.Errorf("Cost(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestRatioCounter_Cost(t *testing.T) {
	t.Parallel()

	c := conversation.NewRatioCounter(4)
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tt := range tests {
		if got := c.Cost(tt.text); got != tt.want {
			t.Errorf("Cost(len=%d) = %d, want %d", len(tt.text), got, tt.want)
		}
	}
}

func TestNewRatioCounter_DefaultRatio(t *testing.T) {
	t.Parallel()

	c := conversation.NewRatioCounter(0)
	if c.CharsPerToken != 4.0 {
		t.Errorf("CharsPerToken = %v, want 4.0", c.CharsPerToken)
	}
}

func TestCounters_Monotone(t *testing.T) {
	t.Parallel()

	counters := map[string]conversation.TokenCounter{
		"chars": conversation.CharCounter{},
		"ratio": conversation.NewRatioCounter(3),
	}
	for name, c := range counters {
		prev := 0
		for n := 0; n <= 64; n++ {
			cost := c.Cost(strings.Repeat("é", n))
			if cost < prev {
				t.Fatalf("%s: Cost(%d chars) = %d < Cost(%d chars) = %d", name, n, cost, n-1, prev)
			}
			prev = cost
		}
	}
}

func TestNewCounter(t *testing.T) {
	t.Parallel()

	if c, err := conversation.NewCounter("", 0); err != nil {
		t.Fatalf("NewCounter(\"\"): %v", err)
	} else if _, ok := c.(conversation.CharCounter); !ok {
		t.Errorf("NewCounter(\"\") = %T, want CharCounter", c)
	}

	if c, err := conversation.NewCounter(conversation.CounterRatio, 2); err != nil {
		t.Fatalf("NewCounter(ratio): %v", err)
	} else if got := c.Cost("abcd"); got != 2 {
		t.Errorf("ratio Cost = %d, want 2", got)
	}

	if _, err := conversation.NewCounter("tiktoken", 0); err == nil {
		t.Error("expected error for unknown counter")
	}
}

func TestTurn_Cost(t *testing.T) {
	t.Parallel()

	turn := conversation.Turn{Question: "1234567", Answer: "abcdefgh"}
	if got := turn.Cost(conversation.CharCounter{}); got != 15 {
		t.Errorf("Cost = %d, want 15", got)
	}
}
