// Package sha256 fingerprints book records so downstream consumers can drop
// duplicates published by repeated runs.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/JakeFAU/isbn-scraper/internal/book"
)

// Hasher implements content fingerprints using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint digests the bibliographic fields of rec. Provenance (source,
// url, confidence) is excluded, so the same book found on two resources
// yields the same fingerprint. Title and author case and surrounding space
// are ignored.
func (h *Hasher) Fingerprint(rec *book.Record) string {
	if rec == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(rec.ISBN)
	b.WriteByte(0)
	b.WriteString(strings.ToLower(strings.TrimSpace(rec.Title)))
	for _, a := range rec.Authors {
		b.WriteByte(0)
		b.WriteString(strings.ToLower(strings.TrimSpace(a)))
	}
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(rec.Pages))
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(rec.Year))
	return h.Hash([]byte(b.String()))
}
