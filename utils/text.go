package utils

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRe   = regexp.MustCompile(`\s+`)
	abbreviationRe = regexp.MustCompile(`\b(abs|esp|epb)\b`)
)

// Common pinyin and spacing slips seen in technician input.
var misspellings = map[string]string{
	"fa men":       "阀门",
	"famen":        "阀门",
	"you yi xiang": "有异响",
	"youyixiang":   "有异响",
}

// NormalizeQuery applies NFKC folding, collapses whitespace, lowercases ASCII
// letters, repairs known misspellings and restores upper-case system abbreviations.
func NormalizeQuery(text string) string {
	if text == "" {
		return ""
	}
	s := norm.NFKC.String(text)
	s = whitespaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
	s = lowerASCII(s)
	for wrong, right := range misspellings {
		s = strings.ReplaceAll(s, wrong, right)
	}
	return abbreviationRe.ReplaceAllStringFunc(s, strings.ToUpper)
}

func lowerASCII(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// Ellipsize truncates s to n runes and appends "..." when anything was cut.
func Ellipsize(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return Truncate(s, n) + "..."
}
