// Package retry runs operations against a named resource under a
// category-specific retry policy, guarded by a per-resource circuit breaker.
package retry

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Category groups failures by how likely a retry is to help.
type Category string

// Error categories.
const (
	CategoryNetwork    Category = "network"
	CategoryResource   Category = "resource"
	CategoryParsing    Category = "parsing"
	CategoryValidation Category = "validation"
	CategoryUnknown    Category = "unknown"
)

// Categories lists every category in classification order.
var Categories = []Category{CategoryNetwork, CategoryResource, CategoryParsing, CategoryValidation, CategoryUnknown}

var markers = []struct {
	category Category
	needles  []string
}{
	{CategoryNetwork, []string{"timeout", "timed out", "deadline exceeded", "connection", "connect", "socket", "network", "eof"}},
	{CategoryResource, []string{"404", "429", "403", "500", "502", "503", "blocked", "captcha", "bot", "access denied", "rate limit", "too many requests"}},
	{CategoryParsing, []string{"parse", "json", "xml", "html", "selector", "xpath", "element not found", "no such element"}},
	{CategoryValidation, []string{"validation", "invalid", "format", "type", "value"}},
}

// Classify maps err onto a Category by inspecting its kind and message.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryNetwork
	}
	msg := strings.ToLower(err.Error())
	for _, m := range markers {
		for _, needle := range m.needles {
			if strings.Contains(msg, needle) {
				return m.category
			}
		}
	}
	return CategoryUnknown
}
