package resource

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// API response formats understood by the API fetcher.
const (
	FormatGoogleBooks = "google_books"
	FormatOpenLibrary = "open_library"
)

// Registry is the immutable, ordered set of resources loaded at startup.
type Registry struct {
	order []Descriptor
	byID  map[string]Descriptor
}

// NewRegistry validates descriptors and indexes them by id.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{byID: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if d == nil {
			continue
		}
		if err := validate(d); err != nil {
			return nil, err
		}
		if _, dup := r.byID[d.ID()]; dup {
			return nil, fmt.Errorf("duplicate resource id %q", d.ID())
		}
		r.byID[d.ID()] = d
		r.order = append(r.order, d)
	}
	if len(r.order) == 0 {
		return nil, fmt.Errorf("at least one resource is required")
	}
	return r, nil
}

// All returns descriptors in registration order.
func (r *Registry) All() []Descriptor {
	return append([]Descriptor(nil), r.order...)
}

// IDs returns resource ids in registration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	for i, d := range r.order {
		ids[i] = d.ID()
	}
	return ids
}

// Get looks up a descriptor by id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// Len returns the number of registered resources.
func (r *Registry) Len() int {
	return len(r.order)
}

type fileEntry struct {
	Type           Kind      `yaml:"type"`
	ID             string    `yaml:"id"`
	Name           string    `yaml:"name"`
	URL            string    `yaml:"url"`
	Priority       int       `yaml:"priority"`
	Enabled        *bool     `yaml:"enabled"`
	NotFound       []string  `yaml:"not_found"`
	Selectors      Selectors `yaml:"selectors"`
	WaitSelector   string    `yaml:"wait_selector"`
	BaseURL        string    `yaml:"base_url"`
	StructuredData bool      `yaml:"structured_data"`
	Format         string    `yaml:"format"`
	RPS            float64   `yaml:"rps"`
}

type file struct {
	Resources []fileEntry `yaml:"resources"`
}

// LoadFile reads a YAML registry from path.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read resources file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML registry document. Entries with enabled: false are skipped.
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode resources: %w", err)
	}
	descriptors := make([]Descriptor, 0, len(f.Resources))
	for _, e := range f.Resources {
		if e.Enabled != nil && !*e.Enabled {
			continue
		}
		switch e.Type {
		case KindWeb:
			descriptors = append(descriptors, &WebResource{
				Key:            e.ID,
				DisplayName:    e.Name,
				URLTemplate:    e.URL,
				PriorityHint:   e.Priority,
				NotFound:       e.NotFound,
				Selectors:      e.Selectors,
				WaitSelector:   e.WaitSelector,
				BaseURL:        e.BaseURL,
				StructuredData: e.StructuredData,
			})
		case KindAPI:
			descriptors = append(descriptors, &APIResource{
				Key:          e.ID,
				DisplayName:  e.Name,
				URLTemplate:  e.URL,
				PriorityHint: e.Priority,
				Format:       e.Format,
				RPS:          e.RPS,
			})
		default:
			return nil, fmt.Errorf("resource %q: unknown type %q", e.ID, e.Type)
		}
	}
	return NewRegistry(descriptors...)
}

// Defaults returns the built-in registry of Russian catalog sites and
// public book APIs.
func Defaults() *Registry {
	notFound := []string{"Похоже, у нас такого нет", "ничего не нашлось", "ничего не найдено", "no results"}
	r, err := NewRegistry(
		&WebResource{
			Key:          "chitai-gorod",
			DisplayName:  "Читай-город",
			URLTemplate:  "https://www.chitai-gorod.ru/search?phrase={isbn}",
			BaseURL:      "https://www.chitai-gorod.ru",
			PriorityHint: 1,
			NotFound:     notFound,
			WaitSelector: "body",
			Selectors: Selectors{
				ResultLink: "a.product-card__title, a.product-card__picture",
				Title:      "h1.detail-product__header-title, h1",
				Authors:    ".product-info-authors__author, .product-authors a",
				Pages:      "[itemprop=numberOfPages], .product-properties-item__content span[itemprop=numberOfPages]",
				Year:       "[itemprop=datePublished]",
			},
			StructuredData: true,
		},
		&WebResource{
			Key:          "book-ru",
			DisplayName:  "book.ru",
			URLTemplate:  "https://book.ru/search?q={isbn}&area=isbn",
			BaseURL:      "https://book.ru",
			PriorityHint: 2,
			NotFound:     notFound,
			WaitSelector: "body",
			Selectors: Selectors{
				ResultLink: ".book-card a.book-card__title, .search-result a",
				Title:      "h1",
				Authors:    ".book-authors a, .author a",
				Pages:      ".book-pages, [itemprop=numberOfPages]",
				Year:       ".book-year, [itemprop=datePublished]",
			},
		},
		&APIResource{
			Key:          "google-books",
			DisplayName:  "Google Books",
			URLTemplate:  "https://www.googleapis.com/books/v1/volumes?q=isbn:{isbn}",
			PriorityHint: 1,
			Format:       FormatGoogleBooks,
			RPS:          2,
		},
		&APIResource{
			Key:          "open-library",
			DisplayName:  "Open Library",
			URLTemplate:  "https://openlibrary.org/api/books?bibkeys=ISBN:{isbn}&format=json&jscmd=data",
			PriorityHint: 2,
			Format:       FormatOpenLibrary,
			RPS:          2,
		},
		&WebResource{
			Key:          "rsl",
			DisplayName:  "Российская государственная библиотека",
			URLTemplate:  "https://search.rsl.ru/ru/search#q={isbn}",
			BaseURL:      "https://search.rsl.ru",
			PriorityHint: 3,
			NotFound:     notFound,
			WaitSelector: "body",
			Selectors: Selectors{
				Title:   ".rsl-itemaction-title, .search-item__title",
				Authors: ".rsl-itemaction-author, .search-item__author",
				Year:    ".rsl-itemaction-year, .search-item__year",
			},
		},
	)
	if err != nil {
		panic(fmt.Sprintf("built-in resource registry: %v", err))
	}
	return r
}
