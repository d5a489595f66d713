// Package security provides credential redaction for logs and per-key
// request rate limiting.
package security

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
)

// RedactPlaceholder is the replacement string for redacted secrets.
const RedactPlaceholder = "***REDACTED***"

// minSecretLen is the shortest literal secret worth scrubbing. Shorter
// values would match ordinary words in log lines.
const minSecretLen = 4

// secretKeyPattern matches config keys whose values are credentials:
// api_key, bearer_token, basic_pass, token, webhook_secret.
var secretKeyPattern = regexp.MustCompile(`(?i)(secret|token|pass|key|credential)`)

// Redactor scrubs credentials from log output and rendered config. The set
// of secrets is fixed at construction, so a Redactor is safe for
// concurrent use without locking.
type Redactor struct {
	patterns []*regexp.Regexp
	literals *strings.Replacer
}

// NewRedactor returns a Redactor for DefaultPatterns plus the given literal
// secrets, usually config.Config.Secrets. Empty and very short literals are
// ignored. When one secret contains another, the longer one wins.
func NewRedactor(secrets ...string) *Redactor {
	return &Redactor{
		patterns: DefaultPatterns(),
		literals: literalReplacer(secrets),
	}
}

func literalReplacer(secrets []string) *strings.Replacer {
	kept := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if len(s) >= minSecretLen {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	slices.SortFunc(kept, func(a, b string) int { return cmp.Compare(len(b), len(a)) })
	kept = slices.Compact(kept)

	pairs := make([]string, 0, 2*len(kept))
	for _, s := range kept {
		pairs = append(pairs, s, RedactPlaceholder)
	}
	return strings.NewReplacer(pairs...)
}

// Redact returns s with every known key format and literal secret
// replaced by RedactPlaceholder. A nil Redactor returns s unchanged.
func (r *Redactor) Redact(s string) string {
	if r == nil || s == "" {
		return s
	}
	for _, p := range r.patterns {
		s = p.ReplaceAllLiteralString(s, RedactPlaceholder)
	}
	if r.literals != nil {
		s = r.literals.Replace(s)
	}
	return s
}

// RedactMap scrubs a decoded YAML document in place. Non-empty strings
// under credential-named keys are replaced outright; every other string,
// including list items, goes through Redact.
func (r *Redactor) RedactMap(m map[string]any) {
	for k, v := range m {
		if s, ok := v.(string); ok && s != "" && secretKeyPattern.MatchString(k) {
			m[k] = RedactPlaceholder
			continue
		}
		m[k] = r.redactValue(v)
	}
}

func (r *Redactor) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return r.Redact(val)
	case map[string]any:
		r.RedactMap(val)
	case []any:
		for i, item := range val {
			val[i] = r.redactValue(item)
		}
	}
	return v
}

// DefaultPatterns returns the key formats parley may handle: OpenAI keys,
// Telegram bot tokens and bearer credentials.
func DefaultPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		// sk-... and sk-proj-...
		regexp.MustCompile(`sk-(proj-)?[a-zA-Z0-9_\-]{20,}`),
		// <bot id>:<35 chars>
		regexp.MustCompile(`\b[0-9]{8,10}:[a-zA-Z0-9_\-]{35}`),
		regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.=]{16,}`),
	}
}
