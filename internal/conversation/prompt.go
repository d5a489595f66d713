package conversation

import "strings"

// BoundaryMarker separates independent exchanges in a rendered prompt.
// Completion models treat <|endoftext|> as a hard stop between documents.
const BoundaryMarker = "<|endoftext|>\n"

const (
	questionPrefix = "Q: "
	answerPrefix   = "\n\n\nA: "
	openAnswer     = "\nA: "
)

// Render builds the linear prompt handed to the model.
//
// The layout is:
//
//	<preamble><marker>
//	Q: <question>\n\n\nA: <answer><marker>   (once per turn, oldest first)
//	Q: <query>\nA:
//
// The preamble and its marker are omitted when preamble is empty. The
// final query is left open so the model completes the answer.
func Render(turns []Turn, preamble, query string) string {
	size := len(preamble) + len(BoundaryMarker) + len(questionPrefix) + len(query) + len(openAnswer)
	for _, t := range turns {
		size += len(questionPrefix) + len(t.Question) + len(answerPrefix) + len(t.Answer) + len(BoundaryMarker)
	}

	var b strings.Builder
	b.Grow(size)

	if preamble != "" {
		b.WriteString(preamble)
		b.WriteString(BoundaryMarker)
	}
	for _, t := range turns {
		b.WriteString(questionPrefix)
		b.WriteString(t.Question)
		b.WriteString(answerPrefix)
		b.WriteString(t.Answer)
		b.WriteString(BoundaryMarker)
	}
	b.WriteString(questionPrefix)
	b.WriteString(query)
	b.WriteString(openAnswer)
	return b.String()
}
