package telegram

import "strings"

// SplitText breaks text into chunks of at most maxLen bytes, cutting at
// line boundaries. A fenced code block (``` ... ```) that fits in one chunk
// is never split. A maxLen <= 0 disables splitting.
func SplitText(text string, maxLen int) []string {
	if maxLen <= 0 || len(text) <= maxLen {
		return []string{text}
	}

	var (
		chunks  []string
		current strings.Builder
	)
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimRight(current.String(), "\n"))
			current.Reset()
		}
	}

	for _, seg := range segments(text) {
		if current.Len()+len(seg) <= maxLen {
			current.WriteString(seg)
			continue
		}
		flush()
		if len(seg) <= maxLen {
			current.WriteString(seg)
			continue
		}
		// The segment alone is too long: fall back to line by line.
		for _, line := range strings.SplitAfter(seg, "\n") {
			if current.Len()+len(line) > maxLen {
				flush()
			}
			if len(line) > maxLen {
				chunks = append(chunks, forceSplit(strings.TrimRight(line, "\n"), maxLen)...)
				continue
			}
			current.WriteString(line)
		}
	}
	flush()

	return chunks
}

// segments groups text into single lines and whole fenced code blocks.
// Every segment but the last keeps its trailing newline.
func segments(text string) []string {
	lines := strings.SplitAfter(text, "\n")

	var (
		segs    []string
		block   strings.Builder
		inBlock bool
	)
	for _, line := range lines {
		if line == "" {
			continue
		}
		isFence := strings.HasPrefix(strings.TrimSpace(line), "```")
		switch {
		case inBlock:
			block.WriteString(line)
			if isFence {
				segs = append(segs, block.String())
				block.Reset()
				inBlock = false
			}
		case isFence:
			block.WriteString(line)
			inBlock = true
		default:
			segs = append(segs, line)
		}
	}
	if block.Len() > 0 {
		// Unterminated block.
		segs = append(segs, block.String())
	}
	return segs
}

// forceSplit breaks a single long line into chunks of at most maxLen
// bytes without cutting a UTF-8 sequence.
func forceSplit(line string, maxLen int) []string {
	var parts []string
	for len(line) > maxLen {
		head := truncateUTF8(line, maxLen)
		if head == "" {
			// maxLen is smaller than one rune.
			head = line[:maxLen]
		}
		parts = append(parts, head)
		line = line[len(head):]
	}
	if len(line) > 0 {
		parts = append(parts, line)
	}
	return parts
}
