// Package sources exposes the built-in source adapters by namespace.
package sources

import (
	"fmt"

	"github.com/citehub/citehub/internal/crawler"
	"github.com/citehub/citehub/internal/sources/aminer"
	"github.com/citehub/citehub/internal/sources/scholar"
	"github.com/citehub/citehub/internal/sources/scopus"
)

// New returns a fresh adapter for the given namespace.
func New(ns string) (crawler.Source, error) {
	switch ns {
	case scholar.Namespace:
		return scholar.New(), nil
	case scopus.Namespace:
		return scopus.New(), nil
	case aminer.Namespace:
		return aminer.New(), nil
	default:
		return nil, fmt.Errorf("%w: %s", crawler.ErrUnknownSource, ns)
	}
}

// Namespaces lists every built-in source namespace.
func Namespaces() []string {
	return []string{scholar.Namespace, scopus.Namespace, aminer.Namespace}
}
