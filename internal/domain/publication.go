package domain

import "net/url"

// Publication is one publication record, scoped to the source that produced
// it. Records accumulate citing-publication paths over repeated crawls.
type Publication struct {
	// Source-scoped identifier
	ID string `json:"id"`
	// Title
	Name string `json:"name"`
	// Author names as the source lists them
	Authors []string `json:"authors,omitempty"`
	// Venue or publisher line
	Publisher string `json:"publisher,omitempty"`
	// Publication year
	Year int `json:"year,omitempty"`
	// Citation count reported by the source
	Cites int `json:"cites,omitempty"`
	// Unique paths of publications known to cite this one
	CitPaths []string `json:"cit_paths,omitempty"`
}

// StoragePath returns the filesystem-safe unique path for this record.
func (p *Publication) StoragePath() string {
	return PathFor(p.ID)
}

// PathFor encodes a record id into a name that is unique per id and safe to
// use as a single path segment.
func PathFor(id string) string {
	return url.QueryEscape(id)
}
