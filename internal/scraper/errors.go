package scraper

import (
	"fmt"
	"strings"
)

// StatusError reports an unexpected HTTP status from a resource. The code is
// part of the message so retry classification can see it.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// BlockedError reports that a resource served an anti-bot page or response.
type BlockedError struct {
	Kind       string
	Reason     string
	Confidence float64
}

func (e *BlockedError) Error() string {
	kind := strings.ReplaceAll(e.Kind, "_", " ")
	return fmt.Sprintf("blocked: %s detected (%s, confidence %.2f)", kind, e.Reason, e.Confidence)
}

// ParseError reports a page or payload whose shape did not match expectations.
type ParseError struct {
	Resource string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s response: %v", e.Resource, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
