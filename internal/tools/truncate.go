package tools

import "fmt"

const (
	// CharTokenRatio estimates characters per token.
	CharTokenRatio = 3
	maxOutputChars = 12000
	minOutputChars = 512
	truncationNote = "\n\n... [ Truncated %d characters. ] ...\n\n"
)

// OutputLimit returns how many characters a tool may return given the
// remaining token budget.
func OutputLimit(remainingTokens int) int {
	limit := remainingTokens / 4 * CharTokenRatio
	if limit > maxOutputChars {
		limit = maxOutputChars
	}
	if limit < minOutputChars {
		limit = minOutputChars
	}
	return limit
}

// TruncateOutput keeps the head and tail of text so that it fits in
// maxChars characters, replacing the middle with a note.
func TruncateOutput(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	// Size the kept parts with the widest possible note.
	noteLen := len([]rune(fmt.Sprintf(truncationNote, len(runes))))
	keep := (maxChars - noteLen) / 2
	if keep < 0 {
		keep = 0
	}
	head := runes[:keep]
	tail := runes[len(runes)-keep:]
	omitted := len(runes) - len(head) - len(tail)
	return string(head) + fmt.Sprintf(truncationNote, omitted) + string(tail)
}
