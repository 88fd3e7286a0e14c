// Package store defines persistence contracts for scrape runs. Implementations
// live in other packages; this package must not import database drivers.
package store
