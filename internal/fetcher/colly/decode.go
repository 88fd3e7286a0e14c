package collyfetcher

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/isbn-scraper/internal/book"
)

type googleBooksResponse struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		VolumeInfo struct {
			Title         string   `json:"title"`
			Subtitle      string   `json:"subtitle"`
			Authors       []string `json:"authors"`
			PageCount     int      `json:"pageCount"`
			PublishedDate string   `json:"publishedDate"`
			InfoLink      string   `json:"infoLink"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

// decodeGoogleBooks reads the first volume of a volumes search. Zero items
// yields a nil record.
func decodeGoogleBooks(body []byte) (*book.Record, error) {
	var payload googleBooksResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("google books json: %w", err)
	}
	if len(payload.Items) == 0 {
		return nil, nil
	}
	info := payload.Items[0].VolumeInfo
	title := strings.TrimSpace(info.Title)
	if sub := strings.TrimSpace(info.Subtitle); sub != "" && title != "" {
		title += ": " + sub
	}
	return &book.Record{
		Title:   title,
		Authors: book.SplitAuthors(strings.Join(info.Authors, ",")),
		Pages:   info.PageCount,
		Year:    book.ParseYear(info.PublishedDate),
		URL:     info.InfoLink,
	}, nil
}

type openLibraryEntry struct {
	Title   string `json:"title"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
	NumberOfPages int    `json:"number_of_pages"`
	PublishDate   string `json:"publish_date"`
	URL           string `json:"url"`
}

// decodeOpenLibrary reads the bibkeys response keyed by "ISBN:<isbn>". An
// empty object yields a nil record.
func decodeOpenLibrary(body []byte, isbn string) (*book.Record, error) {
	var payload map[string]openLibraryEntry
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("open library json: %w", err)
	}
	entry, ok := payload["ISBN:"+isbn]
	if !ok {
		for _, v := range payload {
			entry, ok = v, true
			break
		}
	}
	if !ok {
		return nil, nil
	}
	authors := make([]string, 0, len(entry.Authors))
	for _, a := range entry.Authors {
		authors = append(authors, a.Name)
	}
	return &book.Record{
		Title:   strings.TrimSpace(entry.Title),
		Authors: book.SplitAuthors(strings.Join(authors, ",")),
		Pages:   entry.NumberOfPages,
		Year:    book.ParseYear(entry.PublishDate),
		URL:     entry.URL,
	}, nil
}
