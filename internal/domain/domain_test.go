package domain_test

import (
	"testing"

	"github.com/citehub/citehub/internal/domain"
)

func TestPathFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   string
		want string
	}{
		{name: "plain id", id: "abc123", want: "abc123"},
		{name: "scholar citation id", id: "AbCd-123:XyZ_9", want: "AbCd-123%3AXyZ_9"},
		{name: "slashes escaped", id: "a/b/c", want: "a%2Fb%2Fc"},
		{name: "dots kept", id: "10.1000/182", want: "10.1000%2F182"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := domain.PathFor(tt.id); got != tt.want {
				t.Errorf("PathFor(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestPathForDistinct(t *testing.T) {
	t.Parallel()

	// Ids that collapse under naive sanitization must stay distinct.
	ids := []string{"a:b", "a_b", "a b", "a+b", "a%3Ab"}
	seen := make(map[string]string, len(ids))
	for _, id := range ids {
		path := domain.PathFor(id)
		if prev, ok := seen[path]; ok {
			t.Fatalf("PathFor collision: %q and %q both map to %q", prev, id, path)
		}
		seen[path] = id
	}
}

func TestHIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		cites []int
		want  int
	}{
		{name: "empty", cites: nil, want: 0},
		{name: "all zero", cites: []int{0, 0, 0}, want: 0},
		{name: "single cited paper", cites: []int{5}, want: 1},
		{name: "classic example", cites: []int{10, 8, 5, 4, 3}, want: 4},
		{name: "uniform", cites: []int{3, 3, 3, 3}, want: 3},
		{name: "unsorted input", cites: []int{1, 7, 2, 9, 4}, want: 3},
		{name: "long tail", cites: []int{25, 8, 5, 3, 3, 2, 1, 1, 0}, want: 3},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := domain.HIndex(tt.cites); got != tt.want {
				t.Errorf("HIndex(%v) = %d, want %d", tt.cites, got, tt.want)
			}
		})
	}
}

func TestHIndexDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	cites := []int{1, 7, 2}
	domain.HIndex(cites)
	if cites[0] != 1 || cites[1] != 7 || cites[2] != 2 {
		t.Errorf("HIndex mutated its input: %v", cites)
	}
}
