// Package book holds the bibliographic record produced by resources and the
// field-by-field merge used to assemble a complete record from partial ones.
package book

import (
	"strings"
)

// Record is a partial or complete set of metadata for one ISBN.
type Record struct {
	ISBN       string   `json:"isbn" yaml:"isbn"`
	Title      string   `json:"title,omitempty" yaml:"title,omitempty"`
	Authors    []string `json:"authors,omitempty" yaml:"authors,omitempty"`
	Pages      int      `json:"pages,omitempty" yaml:"pages,omitempty"`
	Year       int      `json:"year,omitempty" yaml:"year,omitempty"`
	Source     string   `json:"source,omitempty" yaml:"source,omitempty"`
	URL        string   `json:"url,omitempty" yaml:"url,omitempty"`
	Confidence float64  `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// placeholders are stand-in strings resources emit when a field is missing.
var placeholders = map[string]struct{}{
	"":                  {},
	"unknown":           {},
	"unknown author":    {},
	"unknown title":     {},
	"n/a":               {},
	"неизвестный автор": {},
	"не удалось определить название": {},
	"нет названия":                   {},
	"не указано":                     {},
	"не указан":                      {},
}

// IsPlaceholder reports whether s carries no real information.
func IsPlaceholder(s string) bool {
	_, ok := placeholders[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// HasTitle reports whether the record carries a real title.
func (r *Record) HasTitle() bool {
	return r != nil && !IsPlaceholder(r.Title)
}

// HasAuthors reports whether at least one non-placeholder author is present.
func (r *Record) HasAuthors() bool {
	if r == nil {
		return false
	}
	for _, a := range r.Authors {
		if !IsPlaceholder(a) {
			return true
		}
	}
	return false
}

// Usable reports whether the record is worth returning: a real title, or
// at least one other field when the title is unknown.
func (r *Record) Usable() bool {
	if r == nil {
		return false
	}
	if r.HasTitle() {
		return true
	}
	return r.HasAuthors() || r.Pages > 0 || r.Year > 0
}

// Complete reports whether every tracked field holds a real value, which
// lets the orchestrator stop trying further resources.
func (r *Record) Complete() bool {
	return r.HasTitle() && r.HasAuthors() && r.Pages > 0 && r.Year > 0
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Authors != nil {
		cp.Authors = append([]string(nil), r.Authors...)
	}
	return &cp
}

// Merge folds src into dst field by field and returns dst. A field that
// already holds a real value is never overwritten, so merging the same
// record twice is a no-op. A nil dst starts from a copy of src.
func Merge(dst, src *Record) *Record {
	if src == nil {
		return dst
	}
	if dst == nil {
		out := src.Clone()
		out.Authors = realAuthors(out.Authors)
		return out
	}
	if dst.ISBN == "" {
		dst.ISBN = src.ISBN
	}
	if !dst.HasTitle() && !IsPlaceholder(src.Title) {
		dst.Title = strings.TrimSpace(src.Title)
		dst.Source = src.Source
		dst.URL = src.URL
	}
	if !dst.HasAuthors() && src.HasAuthors() {
		dst.Authors = realAuthors(src.Authors)
	}
	if dst.Pages <= 0 && src.Pages > 0 {
		dst.Pages = src.Pages
	}
	if dst.Year <= 0 && src.Year > 0 {
		dst.Year = src.Year
	}
	if dst.Source == "" {
		dst.Source = src.Source
	}
	if dst.URL == "" {
		dst.URL = src.URL
	}
	if src.Confidence > dst.Confidence {
		dst.Confidence = src.Confidence
	}
	return dst
}

func realAuthors(in []string) []string {
	var out []string
	for _, a := range in {
		if !IsPlaceholder(a) {
			out = append(out, strings.TrimSpace(a))
		}
	}
	return out
}
