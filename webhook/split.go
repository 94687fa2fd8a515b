package webhook

import "strings"

// splitContent breaks s into chunks of at most limit UTF-16 code units
// (platform length limits are measured that way), preferring the deepest
// available boundary: paragraph break, then sentence end within the last
// 20% of the chunk, then whitespace, then a hard split (spec §4.9). Code
// fences are balanced across chunk boundaries: a fence left open at a
// chunk's end is re-opened at the start of the next chunk.
func splitContent(s string, limit int) []string {
	if utf16Len(s) <= limit {
		if s == "" {
			return nil
		}
		return []string{s}
	}

	// Reserve room for what balanceCodeFences may add to a chunk: a closing
	// "\n```" at its end and a "```lang\n" re-opening at its start.
	budget := limit
	if strings.Contains(s, "```") {
		longestLang := 0
		for _, line := range strings.Split(s, "\n") {
			if i := strings.Index(line, "```"); i >= 0 {
				longestLang = max(longestLang, utf16Len(strings.TrimSpace(line[i+3:])))
			}
		}
		budget = max(limit-len("\n```")-len("```\n")-longestLang, 1)
	}

	var chunks []string
	remaining := s
	for utf16Len(remaining) > budget {
		cut := findBoundary(remaining, budget)
		chunks = append(chunks, remaining[:cut])
		remaining = remaining[cut:]
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}

	return balanceCodeFences(chunks)
}

// findBoundary returns a byte offset <= the limit's UTF-16 budget, preferring
// (in order) a paragraph break, a sentence end in the chunk's last 20%, a
// whitespace run, or a hard split at the limit.
func findBoundary(s string, limit int) int {
	hardCut := byteOffsetForUnits(s, limit)

	if idx := strings.LastIndex(s[:hardCut], "\n\n"); idx > 0 {
		return idx + 2
	}

	tailStart := hardCut * 4 / 5
	if tailStart < 0 {
		tailStart = 0
	}
	tail := s[tailStart:hardCut]
	if idx := lastSentenceEnd(tail); idx >= 0 {
		return tailStart + idx
	}

	if idx := strings.LastIndexAny(s[:hardCut], " \t\n"); idx > 0 {
		return idx + 1
	}

	return hardCut
}

func lastSentenceEnd(s string) int {
	best := -1
	for _, sep := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
		if idx := strings.LastIndex(s, sep); idx > best {
			best = idx + len(sep)
		}
	}
	return best
}

// byteOffsetForUnits returns the byte offset in s at which limit UTF-16
// code units have been consumed.
func byteOffsetForUnits(s string, limit int) int {
	units := 0
	for i, r := range s {
		rLen := utf16RuneLen(r)
		if units+rLen > limit {
			return i
		}
		units += rLen
	}
	return len(s)
}

func utf16Len(s string) int {
	total := 0
	for _, r := range s {
		total += utf16RuneLen(r)
	}
	return total
}

func utf16RuneLen(r rune) int {
	if r >= 0x10000 {
		return 2 // surrogate pair
	}
	return 1
}

// balanceCodeFences ensures a ``` fence opened in one chunk and not closed
// within it is closed at that chunk's end and re-opened at the next
// chunk's start, so each chunk renders its code block correctly on its own.
func balanceCodeFences(chunks []string) []string {
	open := false
	var lang string
	out := make([]string, len(chunks))
	for i, chunk := range chunks {
		prefix := ""
		if open {
			prefix = "```" + lang + "\n"
		}
		fenceCount := strings.Count(chunk, "```")
		if fenceCount%2 == 1 {
			if !open {
				lang = fenceLanguage(chunk)
			}
			open = !open
		}
		suffix := ""
		if open && i < len(chunks)-1 {
			suffix = "\n```"
		}
		out[i] = prefix + chunk + suffix
	}
	return out
}

func fenceLanguage(chunk string) string {
	idx := strings.LastIndex(chunk, "```")
	if idx < 0 {
		return ""
	}
	rest := chunk[idx+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		return strings.TrimSpace(rest[:nl])
	}
	return strings.TrimSpace(rest)
}
