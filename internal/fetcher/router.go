// Package fetcher routes resource fetches to the implementation that
// understands each resource kind.
package fetcher

import (
	"context"
	"fmt"

	"github.com/JakeFAU/isbn-scraper/internal/book"
	"github.com/JakeFAU/isbn-scraper/internal/resource"
	"github.com/JakeFAU/isbn-scraper/internal/scraper"
)

// Router implements scraper.Fetcher by dispatching on the descriptor type.
type Router struct {
	Web scraper.Fetcher
	API scraper.Fetcher
}

// Fetch forwards to Web or API.
func (r Router) Fetch(ctx context.Context, session scraper.Session, isbn string, res resource.Descriptor) (*book.Record, error) {
	var next scraper.Fetcher
	switch res.(type) {
	case *resource.WebResource:
		next = r.Web
	case *resource.APIResource:
		next = r.API
	}
	if next == nil {
		return nil, fmt.Errorf("invalid resource %s: no fetcher for kind %s", res.ID(), res.Kind())
	}
	return next.Fetch(ctx, session, isbn, res)
}
