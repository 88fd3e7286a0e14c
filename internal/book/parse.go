package book

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	yearPattern   = regexp.MustCompile(`\b(1[5-9]\d{2}|20\d{2})\b`)
	numberPattern = regexp.MustCompile(`\d+`)
)

// ParseYear extracts the first plausible publication year from s, or 0.
func ParseYear(s string) int {
	m := yearPattern.FindString(s)
	if m == "" {
		return 0
	}
	year, _ := strconv.Atoi(m)
	return year
}

// ParsePages extracts the first positive integer from s, or 0.
func ParsePages(s string) int {
	for _, m := range numberPattern.FindAllString(s, -1) {
		if n, err := strconv.Atoi(m); err == nil && n > 0 && n < 100000 {
			return n
		}
	}
	return 0
}

// SplitAuthors splits a joined author string on commas and semicolons.
func SplitAuthors(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Join(strings.Fields(f), " ")
		if !IsPlaceholder(f) {
			out = append(out, f)
		}
	}
	return out
}
