package dispatch

import "regexp"

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_-]+)`)

// parseMentions returns every `@<alias|name>` token in content, in order
// of appearance (spec §4.10 step 4b).
func parseMentions(content string) []string {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}
