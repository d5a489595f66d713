package conversation

// Turn is one user question paired with the assistant's answer.
// Turns are values; the store hands out copies, never references.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Cost returns the combined cost of the question and the answer.
func (t Turn) Cost(counter TokenCounter) int {
	return counter.Cost(t.Question) + counter.Cost(t.Answer)
}
