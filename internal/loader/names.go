package loader

import "strings"

// DotByDot returns every prefix of text that ends at a dot boundary, longest
// first, after trimming leading and trailing dots. "a.b.c" yields
// ["a.b.c", "a.b", "a"].
func DotByDot(text string) []string {
	text = strings.Trim(text, ".")
	var out []string
	for length := len(text); length > 0; length = strings.LastIndexByte(text[:length], '.') {
		out = append(out, text[:length])
	}
	return out
}

func first(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}
