package views

import (
	"strings"
	"unicode"
)

// sanitizeForTerminal drops runes that tcell renders badly or that a peer
// could use to drive the terminal: control characters other than newline
// and tab, emoji skin tone modifiers, zero width joiners and variation
// selectors. A thumbs-up with a skin tone becomes a plain thumbs-up.
func sanitizeForTerminal(s string) string {
	return strings.Map(func(r rune) rune {
		if dropRune(r) {
			return -1
		}
		return r
	}, s)
}

func dropRune(r rune) bool {
	switch {
	case r == '\n' || r == '\t':
		return false
	case unicode.IsControl(r):
		return true
	case r >= 0x1F3FB && r <= 0x1F3FF: // skin tone modifiers
		return true
	case r == 0x200D: // zero width joiner
		return true
	case r >= 0xFE00 && r <= 0xFE0F, r >= 0xE0100 && r <= 0xE01EF: // variation selectors
		return true
	default:
		return false
	}
}
