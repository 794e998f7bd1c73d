// Package domain provides the record types shared across the application.
package domain

// Author is one academic profile as a single source reports it.
type Author struct {
	// Source-scoped identifier (e.g. the Scholar user id)
	ID string `json:"id"`
	// Display name
	Name string `json:"name"`
	// Affiliation line as printed on the profile
	Affiliation string `json:"affiliation,omitempty"`
	// Verified email domain, when exposed
	Email string `json:"email,omitempty"`
	// Profile picture URL
	PictureURL string `json:"picture_url,omitempty"`
	// Declared research interests
	Interests []string `json:"interests,omitempty"`
	// Total citation count
	CitedBy int `json:"cited_by,omitempty"`
	// Citations over the last five years
	CitedBy5y int `json:"cited_by_5y,omitempty"`
	// h-index as the source reports it
	HIndex int `json:"h_index,omitempty"`
	// h-index over the last five years
	HIndex5y int `json:"h_index_5y,omitempty"`
	// i10-index as the source reports it
	I10Index int `json:"i10_index,omitempty"`
	// i10-index over the last five years
	I10Index5y int `json:"i10_index_5y,omitempty"`
	// Citations received per calendar year
	CitesPerYear map[int]int `json:"cites_per_year,omitempty"`
	// Coauthors listed on the profile
	Coauthors []CoauthorRef `json:"coauthors,omitempty"`
}

// CoauthorRef points at another profile the source lists as a coauthor.
type CoauthorRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
}

// StoragePath returns the filesystem-safe unique path for this record.
func (a *Author) StoragePath() string {
	return PathFor(a.ID)
}
