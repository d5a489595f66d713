package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/flemzord/parley/internal/conversation"
	"github.com/flemzord/parley/internal/provider"
)

// endOfText is the sentinel a completion model emits when it finishes.
var endOfText = strings.TrimSuffix(conversation.BoundaryMarker, "\n")

// FragmentFunc receives each streamed fragment. Returning an error aborts
// the stream and nothing is recorded.
type FragmentFunc func(fragment string) error

// ReplyStream behaves like Reply but forwards the answer fragment by
// fragment. The accumulated answer is recorded once, after the provider
// stream drained without error or cancellation. Image requests are
// answered in one piece through Reply.
func (a *Assistant) ReplyStream(ctx context.Context, req Request, onFragment FragmentFunc) (Response, error) {
	if req.Kind == KindImageCreate {
		return a.Reply(ctx, req)
	}

	ctx, span := a.startSpan(ctx, "assistant.reply_stream", req)
	defer span.End()

	start := a.now()
	var (
		resp Response
		err  error
	)
	switch req.Kind {
	case KindText, "":
		resp, err = a.streamText(ctx, req, onFragment)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}

	apology := errors.Is(err, errTooFast)
	resp, err = a.finish(ctx, span, req, start, resp, err)
	if apology && err == nil {
		// The apology never went through the stream; deliver it now.
		if ferr := onFragment(resp.Text); ferr != nil {
			return Response{}, ferr
		}
	}
	return resp, err
}

func (a *Assistant) streamText(ctx context.Context, req Request, onFragment FragmentFunc) (Response, error) {
	if a.isClearCommand(req.Query) {
		a.ClearMemory(req.UserID)
		if err := onFragment(a.cfg.ClearReply); err != nil {
			return Response{}, err
		}
		return Response{Text: a.cfg.ClearReply, Cleared: true}, nil
	}

	prompt := a.store.BuildPrompt(req.UserID, req.Query)

	// Releases the provider stream when drain returns early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ch <-chan provider.StreamChunk
	err := a.withRetry(ctx, "stream", func(ctx context.Context) error {
		var err error
		ch, err = a.llm.Stream(ctx, a.completionRequest(req, prompt))
		return err
	})
	if err != nil {
		return Response{}, err
	}

	answer, usage, err := drain(ctx, ch, onFragment)
	if err != nil {
		return Response{}, err
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	a.commit(ctx, req, answer, usage)
	return Response{Text: answer}, nil
}

// drain consumes the provider stream. Fragments are forwarded and
// accumulated until a terminal sentinel: an end-of-text fragment, a finish
// reason, or an empty fragment. Sentinel text is never forwarded. After
// the sentinel the rest of the stream is read only for usage and errors.
func drain(ctx context.Context, ch <-chan provider.StreamChunk, onFragment FragmentFunc) (string, provider.TokenUsage, error) {
	var (
		answer strings.Builder
		usage  provider.TokenUsage
		done   bool
	)
	for {
		var (
			chunk provider.StreamChunk
			ok    bool
		)
		select {
		case <-ctx.Done():
			return "", usage, ctx.Err()
		case chunk, ok = <-ch:
		}
		if !ok {
			return answer.String(), usage, nil
		}

		if chunk.Err != nil {
			return "", usage, chunk.Err
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if done {
			continue
		}

		text := chunk.Text
		if i := strings.Index(text, endOfText); i >= 0 {
			text = text[:i]
			done = true
		}
		if text != "" {
			if err := onFragment(text); err != nil {
				return "", usage, err
			}
			answer.WriteString(text)
		}
		if chunk.FinishReason != "" || (chunk.Text == "" && chunk.Usage == nil) {
			done = true
		}
	}
}
