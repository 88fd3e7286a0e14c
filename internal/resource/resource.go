// Package resource describes the external sources queried for book metadata.
//
// Descriptor is a closed interface: only WebResource and APIResource satisfy
// it. The orchestration core needs nothing beyond ID, Priority and
// RequiresSession; fetchers type-switch to reach the capability-specific
// fields.
package resource

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind tags a descriptor's capability set.
type Kind string

// Supported resource kinds.
const (
	KindWeb Kind = "web"
	KindAPI Kind = "api"
)

// Descriptor is implemented by WebResource and APIResource only.
type Descriptor interface {
	ID() string
	Name() string
	Kind() Kind
	Priority() int
	RequiresSession() bool
	URL(isbn string) string

	sealed()
}

// Selectors maps record fields to CSS selectors evaluated on a rendered page.
type Selectors struct {
	Title   string `yaml:"title" json:"title,omitempty"`
	Authors string `yaml:"authors" json:"authors,omitempty"`
	Pages   string `yaml:"pages" json:"pages,omitempty"`
	Year    string `yaml:"year" json:"year,omitempty"`
	// ResultLink, when set, is followed from a search page to the product page.
	ResultLink string `yaml:"result_link" json:"result_link,omitempty"`
}

// WebResource is a catalog site that must be rendered in a browser tab.
type WebResource struct {
	Key            string    `yaml:"id" json:"id"`
	DisplayName    string    `yaml:"name" json:"name"`
	URLTemplate    string    `yaml:"url" json:"url"`
	PriorityHint   int       `yaml:"priority" json:"priority"`
	NotFound       []string  `yaml:"not_found" json:"not_found,omitempty"`
	Selectors      Selectors `yaml:"selectors" json:"selectors"`
	WaitSelector   string    `yaml:"wait_selector" json:"wait_selector,omitempty"`
	BaseURL        string    `yaml:"base_url" json:"base_url,omitempty"`
	StructuredData bool      `yaml:"structured_data" json:"structured_data,omitempty"`
}

// APIResource is a JSON endpoint fetched over plain HTTP.
type APIResource struct {
	Key          string `yaml:"id" json:"id"`
	DisplayName  string `yaml:"name" json:"name"`
	URLTemplate  string `yaml:"url" json:"url"`
	PriorityHint int    `yaml:"priority" json:"priority"`
	// Format selects the response decoder ("google_books", "open_library").
	Format string `yaml:"format" json:"format"`
	// RPS caps requests per second against this endpoint; zero means unlimited.
	RPS float64 `yaml:"rps" json:"rps,omitempty"`
}

func (w *WebResource) ID() string             { return w.Key }
func (w *WebResource) Name() string           { return w.DisplayName }
func (w *WebResource) Kind() Kind             { return KindWeb }
func (w *WebResource) Priority() int          { return w.PriorityHint }
func (w *WebResource) RequiresSession() bool  { return true }
func (w *WebResource) URL(isbn string) string { return expand(w.URLTemplate, isbn) }
func (w *WebResource) sealed()                {}

// IsNotFound reports whether the page text contains one of the resource's
// "nothing found" phrases.
func (w *WebResource) IsNotFound(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range w.NotFound {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

func (a *APIResource) ID() string             { return a.Key }
func (a *APIResource) Name() string           { return a.DisplayName }
func (a *APIResource) Kind() Kind             { return KindAPI }
func (a *APIResource) Priority() int          { return a.PriorityHint }
func (a *APIResource) RequiresSession() bool  { return false }
func (a *APIResource) URL(isbn string) string { return expand(a.URLTemplate, isbn) }
func (a *APIResource) sealed()                {}

func expand(template, isbn string) string {
	return strings.ReplaceAll(template, "{isbn}", url.QueryEscape(isbn))
}

func validate(d Descriptor) error {
	if strings.TrimSpace(d.ID()) == "" {
		return fmt.Errorf("resource id is required")
	}
	if !strings.Contains(templateOf(d), "{isbn}") {
		return fmt.Errorf("resource %s: url template must contain {isbn}", d.ID())
	}
	if d.Priority() < 0 {
		return fmt.Errorf("resource %s: priority must be >= 0", d.ID())
	}
	if api, ok := d.(*APIResource); ok {
		switch api.Format {
		case FormatGoogleBooks, FormatOpenLibrary:
		default:
			return fmt.Errorf("resource %s: unknown api format %q", d.ID(), api.Format)
		}
	}
	return nil
}

func templateOf(d Descriptor) string {
	switch r := d.(type) {
	case *WebResource:
		return r.URLTemplate
	case *APIResource:
		return r.URLTemplate
	}
	return ""
}
