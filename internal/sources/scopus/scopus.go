// Package scopus crawls the Elsevier Scopus search API. The author is
// resolved to an EID once per cycle, then the publication search is paged
// through with AU-ID queries.
package scopus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/citehub/citehub/internal/crawler"
	"github.com/citehub/citehub/internal/domain"
	"github.com/citehub/citehub/internal/fetch"
)

// Namespace is the storage partition key for Scopus.
const Namespace = "scopus"

const (
	defaultHost = "https://api.elsevier.com"
	pageCount   = 25

	searchDelay = time.Minute
	cycleDelay  = 24 * time.Hour
)

// Persisted stage tags.
const (
	tagFindAuthor = iota
	tagSearch
)

// findAuthorStage resolves the configured name to a Scopus author EID.
type findAuthorStage struct{}

func (findAuthorStage) Tag() int { return tagFindAuthor }

// searchStage pages through the author's publications by EID.
type searchStage struct {
	EID   string `json:"eid"`
	Start int    `json:"start"`
}

func (searchStage) Tag() int { return tagSearch }

// Source implements crawler.Source for Scopus.
type Source struct {
	host string

	mu        sync.RWMutex
	apiKey    string
	firstName string
	lastName  string
}

// New creates a Scopus source.
func New() *Source {
	return &Source{host: defaultHost}
}

// Namespace implements crawler.Source.
func (s *Source) Namespace() string { return Namespace }

// InitialStage implements crawler.Source.
func (s *Source) InitialStage() crawler.Stage { return findAuthorStage{} }

// Fields implements crawler.Source.
func (s *Source) Fields() map[string]string {
	return map[string]string{
		"api_key":    "Elsevier developer API key (<a href=\"https://dev.elsevier.com\">dev.elsevier.com</a>)",
		"first_name": "Author first name as registered in Scopus",
		"last_name":  "Author last name as registered in Scopus",
	}
}

// SetField implements crawler.Source.
func (s *Source) SetField(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch key {
	case "api_key":
		s.apiKey = value
	case "first_name":
		s.firstName = value
	case "last_name":
		s.lastName = value
	default:
		return fmt.Errorf("%w: scopus has no %q field", crawler.ErrUnknownField, key)
	}
	return nil
}

// DecodeStage implements crawler.Source.
func (s *Source) DecodeStage(tag int, fields json.RawMessage) (crawler.Stage, error) {
	switch tag {
	case tagFindAuthor:
		var stage findAuthorStage
		if err := json.Unmarshal(fields, &stage); err != nil {
			return nil, err
		}
		return stage, nil
	case tagSearch:
		var stage searchStage
		if err := json.Unmarshal(fields, &stage); err != nil {
			return nil, err
		}
		return stage, nil
	default:
		return nil, fmt.Errorf("%w: scopus stage %d", crawler.ErrUnknownStageTag, tag)
	}
}

// Step implements crawler.Source.
func (s *Source) Step(
	ctx context.Context, stage crawler.Stage, client *fetch.Client,
) (*crawler.StepResult, error) {
	key, first, last := s.fieldValues()
	if key == "" || first == "" || last == "" {
		return nil, fmt.Errorf("scopus: the api_key, first_name, and last_name fields are not all configured")
	}

	switch st := stage.(type) {
	case findAuthorStage:
		return s.stepFindAuthor(ctx, first, last, client)
	case searchStage:
		return s.stepSearch(ctx, st, client)
	default:
		return nil, fmt.Errorf("scopus: unexpected stage type %T", stage)
	}
}

func (s *Source) fieldValues() (key, first, last string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiKey, s.firstName, s.lastName
}

func (s *Source) header() http.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := http.Header{}
	h.Set("X-ELS-APIKey", s.apiKey)
	h.Set("Accept", "application/json")
	return h
}

type authorSearchResponse struct {
	Results struct {
		Entries []authorEntry `json:"entry"`
	} `json:"search-results"`
}

type authorEntry struct {
	EID           string `json:"eid"`
	PreferredName struct {
		Surname   string `json:"surname"`
		GivenName string `json:"given-name"`
	} `json:"preferred-name"`
	Affiliation struct {
		Name string `json:"affiliation-name"`
	} `json:"affiliation-current"`
}

type pubSearchResponse struct {
	Results struct {
		TotalResults string     `json:"opensearch:totalResults"`
		Entries      []pubEntry `json:"entry"`
	} `json:"search-results"`
}

type pubEntry struct {
	Identifier      string `json:"dc:identifier"`
	Title           string `json:"dc:title"`
	Creator         string `json:"dc:creator"`
	PublicationName string `json:"prism:publicationName"`
	CoverDate       string `json:"prism:coverDate"`
	CitedByCount    string `json:"citedby-count"`
}

// stepFindAuthor resolves the configured name to an author EID. The first
// match wins, like a user picking the top search result.
func (s *Source) stepFindAuthor(
	ctx context.Context, first, last string, client *fetch.Client,
) (*crawler.StepResult, error) {
	query := fmt.Sprintf("AUTHFIRST(%s) AND AUTHLASTNAME(%s)", first, last)
	searchURL := fmt.Sprintf("%s/content/search/author?query=%s", s.host, url.QueryEscape(query))

	var resp authorSearchResponse
	if err := client.GetJSON(ctx, searchURL, s.header(), &resp); err != nil {
		return nil, fmt.Errorf("scopus: author search failed: %w", err)
	}
	if len(resp.Results.Entries) == 0 {
		return nil, fmt.Errorf("scopus: no author matches %q", query)
	}

	entry := resp.Results.Entries[0]
	author := domain.Author{
		ID:          entry.EID,
		Name:        fmt.Sprintf("%s %s", entry.PreferredName.GivenName, entry.PreferredName.Surname),
		Affiliation: entry.Affiliation.Name,
	}

	return &crawler.StepResult{
		Authors: []domain.Author{author},
		Next:    searchStage{EID: entry.EID},
		Delay:   searchDelay,
	}, nil
}

// stepSearch fetches one page of the author's publications.
func (s *Source) stepSearch(
	ctx context.Context, stage searchStage, client *fetch.Client,
) (*crawler.StepResult, error) {
	query := fmt.Sprintf("AU-ID(%s)", stage.EID)
	searchURL := fmt.Sprintf("%s/content/search/scopus?query=%s&count=%d&start=%d",
		s.host, url.QueryEscape(query), pageCount, stage.Start)

	var resp pubSearchResponse
	if err := client.GetJSON(ctx, searchURL, s.header(), &resp); err != nil {
		return nil, fmt.Errorf("scopus: publication search failed: %w", err)
	}

	pubs := make([]domain.Publication, 0, len(resp.Results.Entries))
	for _, entry := range resp.Results.Entries {
		if entry.Identifier == "" {
			continue
		}

		pub := domain.Publication{
			ID:        entry.Identifier,
			Name:      entry.Title,
			Publisher: entry.PublicationName,
		}
		if entry.Creator != "" {
			pub.Authors = []string{entry.Creator}
		}
		if len(entry.CoverDate) >= 4 {
			pub.Year, _ = strconv.Atoi(entry.CoverDate[:4])
		}
		pub.Cites, _ = strconv.Atoi(entry.CitedByCount)

		pubs = append(pubs, pub)
	}

	result := &crawler.StepResult{SelfPubs: pubs}

	total, _ := strconv.Atoi(resp.Results.TotalResults)
	if next := stage.Start + pageCount; next < total {
		result.Next = searchStage{EID: stage.EID, Start: next}
		result.Delay = searchDelay
	} else {
		result.Delay = cycleDelay
	}
	return result, nil
}
