package assistant

import "errors"

var (
	// ErrReplyFailed wraps permanent provider failures.
	ErrReplyFailed = errors.New("assistant: reply failed")

	// ErrUnknownKind is returned for an unsupported request kind.
	ErrUnknownKind = errors.New("assistant: unknown request kind")

	// errTooFast signals that the rate-limit retry was exhausted.
	errTooFast = errors.New("assistant: rate limited after retry")
)
