package conversation_test

import (
	"strings"
	"testing"

	"github.com/flemzord/parley/internal/conversation"
)

func TestRender_PreambleAndHistory(t *testing.T) {
	t.Parallel()

	turns := []conversation.Turn{{Question: "What is 2+2?", Answer: "4"}}
	got := conversation.Render(turns, "You are helpful.", "And 3+3?")

	want := "You are helpful." + conversation.BoundaryMarker +
		"Q: What is 2+2?\n\n\nA: 4" + conversation.BoundaryMarker +
		"Q: And 3+3?\nA: "
	if got != want {
		t.Errorf("Render =\n%q\nwant\n%q", got, want)
	}
}

func TestRender_NoPreamble(t *testing.T) {
	t.Parallel()

	got := conversation.Render(nil, "", "hello")
	if got != "Q: hello\nA: " {
		t.Errorf("Render = %q, want %q", got, "Q: hello\nA: ")
	}
}

func TestRender_PreambleOnly(t *testing.T) {
	t.Parallel()

	got := conversation.Render(nil, "Persona", "hi")
	want := "Persona" + conversation.BoundaryMarker + "Q: hi\nA: "
	if got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}

func TestRender_MarkerCountAndOrder(t *testing.T) {
	t.Parallel()

	turns := []conversation.Turn{
		{Question: "q1", Answer: "a1"},
		{Question: "q2", Answer: "a2"},
		{Question: "q3", Answer: "a3"},
	}
	got := conversation.Render(turns, "P", "q4")

	// One marker after the preamble and one per turn, none after the query.
	if n := strings.Count(got, conversation.BoundaryMarker); n != 4 {
		t.Errorf("marker count = %d, want 4", n)
	}
	if strings.HasSuffix(got, conversation.BoundaryMarker) {
		t.Error("prompt must not end with a boundary marker")
	}
	if !strings.HasSuffix(got, "Q: q4\nA: ") {
		t.Errorf("prompt should end with the open query, got %q", got)
	}

	i1 := strings.Index(got, "q1")
	i2 := strings.Index(got, "q2")
	i3 := strings.Index(got, "q3")
	if !(i1 < i2 && i2 < i3) {
		t.Errorf("turns out of order: q1@%d q2@%d q3@%d", i1, i2, i3)
	}
}
