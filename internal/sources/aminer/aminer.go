// Package aminer crawls the ArnetMiner (AMiner) REST API. The researcher
// name is resolved to a person id once per cycle, then the publication list
// is paged through.
package aminer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/citehub/citehub/internal/crawler"
	"github.com/citehub/citehub/internal/domain"
	"github.com/citehub/citehub/internal/fetch"
)

// Namespace is the storage partition key for AMiner.
const Namespace = "aminer"

const (
	defaultHost = "https://api.aminer.org"
	pageSize    = 20

	searchDelay = time.Minute
	cycleDelay  = 24 * time.Hour
)

// Persisted stage tags.
const (
	tagFindPerson = iota
	tagPublications
)

// findPersonStage resolves the configured name to an AMiner person id.
type findPersonStage struct{}

func (findPersonStage) Tag() int { return tagFindPerson }

// publicationsStage pages through the person's publications.
type publicationsStage struct {
	PersonID string `json:"person_id"`
	Offset   int    `json:"offset"`
}

func (publicationsStage) Tag() int { return tagPublications }

// Source implements crawler.Source for AMiner.
type Source struct {
	host string

	mu   sync.RWMutex
	auth string
	name string
}

// New creates an AMiner source.
func New() *Source {
	return &Source{host: defaultHost}
}

// Namespace implements crawler.Source.
func (s *Source) Namespace() string { return Namespace }

// InitialStage implements crawler.Source.
func (s *Source) InitialStage() crawler.Stage { return findPersonStage{} }

// Fields implements crawler.Source.
func (s *Source) Fields() map[string]string {
	return map[string]string{
		"auth": "AMiner API authorization token",
		"name": "Full researcher name to search for",
	}
}

// SetField implements crawler.Source.
func (s *Source) SetField(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch key {
	case "auth":
		s.auth = value
	case "name":
		s.name = value
	default:
		return fmt.Errorf("%w: aminer has no %q field", crawler.ErrUnknownField, key)
	}
	return nil
}

// DecodeStage implements crawler.Source.
func (s *Source) DecodeStage(tag int, fields json.RawMessage) (crawler.Stage, error) {
	switch tag {
	case tagFindPerson:
		var stage findPersonStage
		if err := json.Unmarshal(fields, &stage); err != nil {
			return nil, err
		}
		return stage, nil
	case tagPublications:
		var stage publicationsStage
		if err := json.Unmarshal(fields, &stage); err != nil {
			return nil, err
		}
		return stage, nil
	default:
		return nil, fmt.Errorf("%w: aminer stage %d", crawler.ErrUnknownStageTag, tag)
	}
}

// Step implements crawler.Source.
func (s *Source) Step(
	ctx context.Context, stage crawler.Stage, client *fetch.Client,
) (*crawler.StepResult, error) {
	auth, name := s.fieldValues()
	if auth == "" || name == "" {
		return nil, fmt.Errorf("aminer: the auth and name fields are not both configured")
	}

	switch st := stage.(type) {
	case findPersonStage:
		return s.stepFindPerson(ctx, name, client)
	case publicationsStage:
		return s.stepPublications(ctx, st, client)
	default:
		return nil, fmt.Errorf("aminer: unexpected stage type %T", stage)
	}
}

func (s *Source) fieldValues() (auth, name string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.auth, s.name
}

func (s *Source) header() http.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := http.Header{}
	h.Set("Authorization", s.auth)
	h.Set("Accept", "application/json")
	return h
}

type personSearchResponse struct {
	Items []personItem `json:"items"`
}

type personItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	HIndex    int    `json:"h_index"`
	NCitation int    `json:"n_citation"`
}

type pubListResponse struct {
	Total int       `json:"total"`
	Items []pubItem `json:"items"`
}

type pubItem struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
	Venue     string `json:"venue"`
	Year      int    `json:"year"`
	NCitation int    `json:"n_citation"`
}

// stepFindPerson resolves the configured name. The first search hit wins.
func (s *Source) stepFindPerson(
	ctx context.Context, name string, client *fetch.Client,
) (*crawler.StepResult, error) {
	searchURL := fmt.Sprintf("%s/api/search/person?query=%s", s.host, url.QueryEscape(name))

	var resp personSearchResponse
	if err := client.GetJSON(ctx, searchURL, s.header(), &resp); err != nil {
		return nil, fmt.Errorf("aminer: person search failed: %w", err)
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("aminer: no person matches %q", name)
	}

	person := resp.Items[0]
	author := domain.Author{
		ID:      person.ID,
		Name:    person.Name,
		HIndex:  person.HIndex,
		CitedBy: person.NCitation,
	}

	return &crawler.StepResult{
		Authors: []domain.Author{author},
		Next:    publicationsStage{PersonID: person.ID},
		Delay:   searchDelay,
	}, nil
}

// stepPublications fetches one page of the person's publications.
func (s *Source) stepPublications(
	ctx context.Context, stage publicationsStage, client *fetch.Client,
) (*crawler.StepResult, error) {
	listURL := fmt.Sprintf("%s/api/person/pubs?person_id=%s&offset=%d&size=%d",
		s.host, url.QueryEscape(stage.PersonID), stage.Offset, pageSize)

	var resp pubListResponse
	if err := client.GetJSON(ctx, listURL, s.header(), &resp); err != nil {
		return nil, fmt.Errorf("aminer: publication list failed: %w", err)
	}

	pubs := make([]domain.Publication, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.ID == "" {
			continue
		}

		pub := domain.Publication{
			ID:        item.ID,
			Name:      item.Title,
			Publisher: item.Venue,
			Year:      item.Year,
			Cites:     item.NCitation,
		}
		for _, a := range item.Authors {
			if a.Name != "" {
				pub.Authors = append(pub.Authors, a.Name)
			}
		}

		pubs = append(pubs, pub)
	}

	result := &crawler.StepResult{SelfPubs: pubs}

	if next := stage.Offset + pageSize; next < resp.Total {
		result.Next = publicationsStage{PersonID: stage.PersonID, Offset: next}
		result.Delay = searchDelay
	} else {
		result.Delay = cycleDelay
	}
	return result, nil
}
