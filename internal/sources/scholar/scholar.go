// Package scholar crawls Google Scholar author profiles. Scholar has no API,
// so the adapter scrapes the public HTML pages with a browser-like identity.
package scholar

import (
	"context"
	"crypto/rand"
	"encoding/base64"
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

// Namespace is the storage partition key for Google Scholar.
const Namespace = "scholar"

const (
	defaultHost = "https://scholar.google.com"
	pageSize    = 100

	// Profile pages are cheap, citation lookups fan out to several requests,
	// and a full pass repeats daily.
	profileDelay  = 2 * time.Minute
	citationDelay = 5 * time.Minute
	cycleDelay    = 24 * time.Hour

	// citingPageLimit caps how many result pages one citation lookup
	// follows. Heavily cited publications pick up the rest next cycle.
	citingPageLimit = 10
	citingPageSize  = 10
)

// Persisted stage tags.
const (
	tagProfile = iota
	tagCitations
)

// profileStage walks the author's publication table one page per step,
// carrying the publication ids collected so far.
type profileStage struct {
	Start int      `json:"start"`
	Seen  []string `json:"seen"`
}

func (profileStage) Tag() int { return tagProfile }

// citationsStage drains the collected publication ids, resolving who cites
// one publication per step.
type citationsStage struct {
	Pending []string `json:"pending"`
}

func (citationsStage) Tag() int { return tagCitations }

// Source implements crawler.Source for Google Scholar.
type Source struct {
	host   string
	cookie string

	mu   sync.RWMutex
	user string
}

// New creates a Scholar source with a fresh session cookie.
func New() *Source {
	return &Source{
		host:   defaultHost,
		cookie: newSessionCookie(),
	}
}

// newSessionCookie builds the GSP cookie Scholar hands to new browser
// sessions. Requests without it answer with a consent redirect.
func newSessionCookie() string {
	seed := make([]byte, 12)
	_, _ = rand.Read(seed)
	return fmt.Sprintf("GSP=LM=%d:S=%s",
		time.Now().Unix(), base64.URLEncoding.EncodeToString(seed))
}

// Namespace implements crawler.Source.
func (s *Source) Namespace() string { return Namespace }

// InitialStage implements crawler.Source.
func (s *Source) InitialStage() crawler.Stage { return profileStage{} }

// Fields implements crawler.Source.
func (s *Source) Fields() map[string]string {
	return map[string]string{
		"user": "Google Scholar profile ID (the <code>user=</code> query parameter)",
	}
}

// SetField implements crawler.Source.
func (s *Source) SetField(key, value string) error {
	if key != "user" {
		return fmt.Errorf("%w: scholar has no %q field", crawler.ErrUnknownField, key)
	}
	s.mu.Lock()
	s.user = value
	s.mu.Unlock()
	return nil
}

// DecodeStage implements crawler.Source.
func (s *Source) DecodeStage(tag int, fields json.RawMessage) (crawler.Stage, error) {
	switch tag {
	case tagProfile:
		var stage profileStage
		if err := json.Unmarshal(fields, &stage); err != nil {
			return nil, err
		}
		return stage, nil
	case tagCitations:
		var stage citationsStage
		if err := json.Unmarshal(fields, &stage); err != nil {
			return nil, err
		}
		return stage, nil
	default:
		return nil, fmt.Errorf("%w: scholar stage %d", crawler.ErrUnknownStageTag, tag)
	}
}

// Step implements crawler.Source.
func (s *Source) Step(
	ctx context.Context, stage crawler.Stage, client *fetch.Client,
) (*crawler.StepResult, error) {
	user := s.userValue()
	if user == "" {
		return nil, fmt.Errorf("scholar: the user field is not configured")
	}

	switch st := stage.(type) {
	case profileStage:
		return s.stepProfile(ctx, st, user, client)
	case citationsStage:
		return s.stepCitations(ctx, st, user, client)
	default:
		return nil, fmt.Errorf("scholar: unexpected stage type %T", stage)
	}
}

func (s *Source) userValue() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// header carries the browser identity. Scholar serves plain bot agents a
// captcha page instead of the profile.
func (s *Source) header() http.Header {
	h := http.Header{}
	h.Set("User-Agent", fetch.DefaultUserAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml")
	h.Set("Accept-Language", "en-US,en")
	h.Set("Cookie", s.cookie)
	return h
}

func (s *Source) profileURL(user string, start int) string {
	u := fmt.Sprintf("%s/citations?hl=en&user=%s&pagesize=%d",
		s.host, url.QueryEscape(user), pageSize)
	if start > 0 {
		u += fmt.Sprintf("&cstart=%d", start)
	}
	return u
}

func (s *Source) citationURL(user, pubID string) string {
	return fmt.Sprintf("%s/citations?view_op=view_citation&hl=en&user=%s&citation_for_view=%s",
		s.host, url.QueryEscape(user), url.QueryEscape(pubID))
}

// stepProfile fetches one page of the author's publication table. The first
// page also carries the profile header with the citation indices.
func (s *Source) stepProfile(
	ctx context.Context, stage profileStage, user string, client *fetch.Client,
) (*crawler.StepResult, error) {
	doc, err := client.GetDocument(ctx, s.profileURL(user, stage.Start), s.header())
	if err != nil {
		return nil, fmt.Errorf("scholar: failed to fetch profile page: %w", err)
	}

	pubs, hasMore := parsePublications(doc)

	result := &crawler.StepResult{SelfPubs: pubs}
	if stage.Start == 0 {
		result.Authors = []domain.Author{parseAuthor(doc, user, s.host)}
	}

	seen := append(append([]string(nil), stage.Seen...), pubIDs(pubs)...)
	switch {
	case hasMore:
		result.Next = profileStage{Start: stage.Start + pageSize, Seen: seen}
		result.Delay = profileDelay
	case len(seen) == 0:
		result.Delay = cycleDelay
	default:
		result.Next = citationsStage{Pending: seen}
		result.Delay = citationDelay
	}
	return result, nil
}

// stepCitations resolves who cites one publication. The citation detail page
// links to a regular Scholar search listing every citing publication; that
// listing is paged through up to citingPageLimit pages.
func (s *Source) stepCitations(
	ctx context.Context, stage citationsStage, user string, client *fetch.Client,
) (*crawler.StepResult, error) {
	if len(stage.Pending) == 0 {
		return &crawler.StepResult{Delay: cycleDelay}, nil
	}
	pubID, rest := stage.Pending[0], stage.Pending[1:]

	doc, err := client.GetDocument(ctx, s.citationURL(user, pubID), s.header())
	if err != nil {
		return nil, fmt.Errorf("scholar: failed to fetch citation page for %s: %w", pubID, err)
	}

	var citing []domain.Publication
	if citesURL, ok := parseCitedByLink(doc, s.host); ok {
		for page := 0; page < citingPageLimit; page++ {
			pageURL := citesURL
			if page > 0 {
				pageURL = fmt.Sprintf("%s&start=%d", citesURL, page*citingPageSize)
			}
			resultsDoc, err := client.GetDocument(ctx, pageURL, s.header())
			if err != nil {
				return nil, fmt.Errorf("scholar: failed to fetch citing page for %s: %w", pubID, err)
			}
			results := parseCitingResults(resultsDoc)
			citing = append(citing, results...)
			if len(results) < citingPageSize {
				break
			}
		}
	}

	result := &crawler.StepResult{
		Citations: map[string][]domain.Publication{pubID: citing},
	}
	if len(rest) > 0 {
		result.Next = citationsStage{Pending: rest}
		result.Delay = citationDelay
	} else {
		result.Delay = cycleDelay
	}
	return result, nil
}

func pubIDs(pubs []domain.Publication) []string {
	ids := make([]string, 0, len(pubs))
	for _, pub := range pubs {
		ids = append(ids, pub.ID)
	}
	return ids
}
