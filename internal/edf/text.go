package edf

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Header text is ISO-8859-1: one byte per character.

func decodeLatin1(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

func encodeLatin1(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			r = '?'
		}
		out = append(out, byte(r))
	}
	return out
}

// textWidth is the number of header bytes s occupies.
func textWidth(s string) int {
	return utf8.RuneCountInString(s)
}

// fixedWidth left-justifies s into exactly width bytes.
func fixedWidth(s string, width int) []byte {
	b := encodeLatin1(s)
	if len(b) > width {
		return b[:width]
	}
	out := make([]byte, width)
	copy(out, b)
	for i := len(b); i < width; i++ {
		out[i] = ' '
	}
	return out
}

// padRight pads s with spaces up to width characters.
func padRight(s string, width int) string {
	if n := textWidth(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func itoa(i int) string {
	return strconv.Itoa(i)
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// formatNumber renders v in the shortest decimal form that fits width when
// one exists.
func formatNumber(v float64, width int) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if len(s) <= width {
		return s
	}
	if g := strconv.FormatFloat(v, 'g', -1, 64); len(g) < len(s) {
		return g
	}
	return s
}

func isASCIIDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
