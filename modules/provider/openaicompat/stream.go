package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flemzord/parley/internal/provider"
)

// readSSE reads an SSE body and emits one StreamChunk per data event until
// [DONE], a read error or cancellation. The caller closes out.
//
// Chat events without content (role announcements, keep-alives) are
// dropped. On the completions endpoint every event is forwarded, including
// empty fragments, which the assistant treats as end of answer.
func readSSE(ctx context.Context, scanner *bufio.Scanner, endpoint Endpoint, out chan<- provider.StreamChunk) {
	send := func(c provider.StreamChunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			send(provider.StreamChunk{Err: err})
			return
		}

		data, ok := sseData(scanner.Text())
		if !ok {
			continue
		}
		if data == "[DONE]" {
			return
		}

		var chunk oaiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			send(provider.StreamChunk{Err: fmt.Errorf("openaicompat: parse SSE chunk: %w", err)})
			return
		}

		sc, err := streamChunk(chunk, endpoint)
		if err != nil {
			send(provider.StreamChunk{Err: err})
			return
		}
		if endpoint == EndpointChat && sc.Text == "" && sc.FinishReason == "" && sc.Usage == nil {
			continue
		}
		if !send(sc) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			send(provider.StreamChunk{Err: ctx.Err()})
			return
		}
		send(provider.StreamChunk{Err: fmt.Errorf("%w: stream read error: %w", provider.ErrProviderDown, err)})
	}
}

// sseData returns the payload of a "data:" line. Some servers omit the
// space after the colon.
func sseData(line string) (string, bool) {
	switch {
	case strings.HasPrefix(line, "data: "):
		return strings.TrimPrefix(line, "data: "), true
	case strings.HasPrefix(line, "data:"):
		return strings.TrimPrefix(line, "data:"), true
	default:
		return "", false
	}
}

// streamChunk converts one streamed event. An event with neither choices
// nor usage is malformed, as is a completions choice that carries neither
// text nor a finish reason.
func streamChunk(chunk oaiResponse, endpoint Endpoint) (provider.StreamChunk, error) {
	var sc provider.StreamChunk
	if chunk.Usage != nil {
		u := mapUsage(*chunk.Usage)
		sc.Usage = &u
	}
	if len(chunk.Choices) == 0 {
		if sc.Usage == nil {
			return sc, provider.ErrNoChoices
		}
		return sc, nil
	}

	choice := chunk.Choices[0]
	text, ok := choiceText(choice)
	if choice.FinishReason != nil {
		sc.FinishReason = mapFinishReason(*choice.FinishReason)
	}
	if !ok && endpoint == EndpointCompletions && sc.FinishReason == "" {
		return sc, provider.ErrNoText
	}
	sc.Text = text
	return sc, nil
}
