// Package erosion computes how much of a message stays visible while it is
// being deleted.
package erosion

import (
	"unicode/utf8"

	"fadeout/internal/constants"
)

// VisibleLen returns clamp(floor(n*(1-elapsed/window)), 0, n). It is
// non-increasing in elapsed and reaches 0 when elapsed >= window.
func VisibleLen(n, elapsed, window int) int {
	if n <= 0 || window <= 0 {
		return 0
	}
	if elapsed <= 0 {
		return n
	}
	if elapsed >= window {
		return 0
	}
	// integer division is floor here since both operands are positive
	return clamp(n*(window-elapsed)/window, 0, n)
}

// Erode returns the visible prefix of text after elapsed seconds of the
// standard deletion window. Lengths are counted in runes.
func Erode(text string, elapsed int) string {
	return ErodeWithin(text, elapsed, constants.DeletingWindowSec)
}

// ErodeWithin is Erode with an explicit window.
func ErodeWithin(text string, elapsed, window int) string {
	n := utf8.RuneCountInString(text)
	keep := VisibleLen(n, elapsed, window)
	if keep == n {
		return text
	}
	return prefix(text, keep)
}

func prefix(text string, runes int) string {
	if runes <= 0 {
		return ""
	}
	i := 0
	for pos := range text {
		if i == runes {
			return text[:pos]
		}
		i++
	}
	return text
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
