package headless

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/isbn-scraper/internal/book"
	"github.com/JakeFAU/isbn-scraper/internal/resource"
)

// extract applies the resource selectors to doc. Empty selectors are skipped.
func extract(doc *goquery.Document, sel resource.Selectors) *book.Record {
	rec := &book.Record{}
	if sel.Title != "" {
		rec.Title = firstText(doc, sel.Title)
	}
	if sel.Authors != "" {
		doc.Find(sel.Authors).Each(func(_ int, s *goquery.Selection) {
			rec.Authors = append(rec.Authors, book.SplitAuthors(s.Text())...)
		})
		rec.Authors = dedupe(rec.Authors)
	}
	if sel.Pages != "" {
		rec.Pages = book.ParsePages(firstValue(doc, sel.Pages))
	}
	if sel.Year != "" {
		rec.Year = book.ParseYear(firstValue(doc, sel.Year))
	}
	return rec
}

func firstText(doc *goquery.Document, selector string) string {
	var out string
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		out = strings.Join(strings.Fields(s.Text()), " ")
		return out == ""
	})
	return out
}

// firstValue prefers a content attribute (microdata) over element text.
func firstValue(doc *goquery.Document, selector string) string {
	var out string
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, ok := s.Attr("content"); ok && strings.TrimSpace(v) != "" {
			out = v
		} else {
			out = strings.TrimSpace(s.Text())
		}
		return out == ""
	})
	return out
}

// resultLink returns the absolute URL of the first search result, if any.
func resultLink(doc *goquery.Document, selector, pageURL, baseURL string) string {
	href, ok := doc.Find(selector).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return ""
	}
	base := baseURL
	if base == "" {
		base = pageURL
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return b.ResolveReference(ref).String()
}

type ldBook struct {
	Type          any    `json:"@type"`
	Name          string `json:"name"`
	Author        any    `json:"author"`
	NumberOfPages any    `json:"numberOfPages"`
	DatePublished string `json:"datePublished"`
}

// structuredData reads the first schema.org Book object from JSON-LD blocks.
func structuredData(doc *goquery.Document) *book.Record {
	var rec *book.Record
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var candidates []ldBook
		raw := []byte(s.Text())
		var single ldBook
		if err := json.Unmarshal(raw, &single); err == nil {
			candidates = append(candidates, single)
		} else if err := json.Unmarshal(raw, &candidates); err != nil {
			return true
		}
		for _, c := range candidates {
			if !isBookType(c.Type) {
				continue
			}
			rec = &book.Record{
				Title:   strings.TrimSpace(c.Name),
				Authors: ldAuthors(c.Author),
				Pages:   book.ParsePages(toString(c.NumberOfPages)),
				Year:    book.ParseYear(c.DatePublished),
			}
			return false
		}
		return true
	})
	return rec
}

func isBookType(t any) bool {
	switch v := t.(type) {
	case string:
		return strings.EqualFold(v, "Book")
	case []any:
		for _, item := range v {
			if isBookType(item) {
				return true
			}
		}
	}
	return false
}

func ldAuthors(v any) []string {
	switch a := v.(type) {
	case string:
		return book.SplitAuthors(a)
	case map[string]any:
		if name, ok := a["name"].(string); ok {
			return book.SplitAuthors(name)
		}
	case []any:
		var out []string
		for _, item := range a {
			out = append(out, ldAuthors(item)...)
		}
		return out
	}
	return nil
}

func toString(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return ""
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
