package api

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/citehub/citehub/internal/crawler"
	"github.com/citehub/citehub/internal/domain"
	"github.com/citehub/citehub/internal/logger"
	"github.com/citehub/citehub/internal/metrics"
)

// PublicationStore is the record access the API reads from.
type PublicationStore interface {
	SubjectPublications(ns string) ([]domain.Publication, error)
	Related(source, pubID string) []domain.MergeRef
}

// SourceManager exposes the configured sources and applies field updates.
type SourceManager interface {
	Namespaces() []string
	Sources() []crawler.SourceInfo
	UpdateFields(updates map[string]map[string]string) ([]string, error)
}

// MergeScheduler triggers merge sweeps.
type MergeScheduler interface {
	ForceMerge() bool
}

// Handler serves the v1 API.
type Handler struct {
	store   PublicationStore
	manager SourceManager
	merger  MergeScheduler
	stats   *metrics.Metrics
	subject string
	logger  logger.Logger
}

// NewHandler wires the API onto the crawling core. stats may be nil.
func NewHandler(
	store PublicationStore,
	manager SourceManager,
	merger MergeScheduler,
	stats *metrics.Metrics,
	subject string,
	log logger.Logger,
) *Handler {
	return &Handler{
		store:   store,
		manager: manager,
		merger:  merger,
		stats:   stats,
		subject: subject,
		logger:  log,
	}
}

// publicationView is one merged publication as the API reports it. The first
// source to report the publication supplies the scalar fields.
type publicationView struct {
	Sources   []string `json:"sources"`
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Authors   []string `json:"authors"`
	Publisher string   `json:"publisher,omitempty"`
	Year      int      `json:"year,omitempty"`
	Cites     int      `json:"cites"`
}

// ListPublications returns the subject's publications merged across sources.
// The first source to report a publication owns the view; merge records fold
// the other sources' copies into it.
func (h *Handler) ListPublications(c *gin.Context) {
	views := make([]publicationView, 0)
	used := make(map[domain.MergeRef]bool)

	for _, ns := range h.manager.Namespaces() {
		pubs, err := h.store.SubjectPublications(ns)
		if err != nil {
			h.logger.Error("Failed to load publications",
				logger.String("source", ns),
				logger.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load publications"})
			return
		}

		for _, pub := range pubs {
			self := domain.MergeRef{Source: ns, Pub: pub.ID}
			if used[self] {
				continue
			}
			used[self] = true

			sources := []string{ns}
			for _, rel := range h.store.Related(ns, pub.ID) {
				if used[rel] {
					continue
				}
				used[rel] = true
				sources = append(sources, rel.Source)
			}

			// Scraped sources count citing publications directly; API
			// sources only report a number.
			cites := pub.Cites
			if n := len(pub.CitPaths); n > cites {
				cites = n
			}

			views = append(views, publicationView{
				Sources:   sources,
				ID:        pub.ID,
				Name:      pub.Name,
				Authors:   pub.Authors,
				Publisher: pub.Publisher,
				Year:      pub.Year,
				Cites:     cites,
			})
		}
	}

	sort.Slice(views, func(i, j int) bool {
		if views[i].Cites != views[j].Cites {
			return views[i].Cites > views[j].Cites
		}
		return views[i].Name < views[j].Name
	})

	counts := make([]int, len(views))
	for i, view := range views {
		counts[i] = view.Cites
	}

	c.JSON(http.StatusOK, gin.H{
		"subject":      h.subject,
		"count":        len(views),
		"h_index":      domain.HIndex(counts),
		"publications": views,
	})
}

// ListSources returns every configured source with its field keys,
// descriptions, and current values.
func (h *Handler) ListSources(c *gin.Context) {
	sources := h.manager.Sources()
	c.JSON(http.StatusOK, gin.H{
		"sources": sources,
		"count":   len(sources),
	})
}

// UpdateSources applies a batch of field updates. The batch is atomic:
// an unknown source or field rejects the whole request.
func (h *Handler) UpdateSources(c *gin.Context) {
	var updates map[string]map[string]string
	if err := c.ShouldBindJSON(&updates); err != nil {
		h.logger.Debug("Invalid request body",
			logger.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	updated, err := h.manager.UpdateFields(updates)
	if err != nil {
		if errors.Is(err, crawler.ErrUnknownSource) || errors.Is(err, crawler.ErrUnknownField) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown source or field", "details": err.Error()})
			return
		}
		h.logger.Error("Failed to update sources",
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update sources"})
		return
	}

	h.logger.Info("Sources updated",
		logger.Strings("sources", updated),
	)

	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// ForceMerge schedules an immediate merge sweep. ok reports whether this
// request newly scheduled one.
func (h *Handler) ForceMerge(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": h.merger.ForceMerge()})
}

// GetStats reports progress counters for the crawl and merge loops.
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats.Snapshot())
}

// GetRelated returns the cross-source matches recorded for one publication.
func (h *Handler) GetRelated(c *gin.Context) {
	source := c.Query("source")
	pub := c.Query("pub")
	if source == "" || pub == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing source or pub parameter"})
		return
	}

	related := h.store.Related(source, pub)
	if related == nil {
		related = []domain.MergeRef{}
	}

	c.JSON(http.StatusOK, gin.H{
		"source":  source,
		"pub":     pub,
		"related": related,
	})
}
