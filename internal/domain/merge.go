package domain

// MergeRecord links two publications in different sources that resolve to the
// same work. A sweep replaces a subject's whole record set at once.
type MergeRecord struct {
	SourceA    string  `json:"source_a"`
	SourceB    string  `json:"source_b"`
	PubA       string  `json:"pub_a"`
	PubB       string  `json:"pub_b"`
	Similarity float64 `json:"similarity"`
}

// MergeRef points at a publication in another source that matched one of
// ours.
type MergeRef struct {
	Source string `json:"source"`
	Pub    string `json:"pub"`
}
