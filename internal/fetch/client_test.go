package fetch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/citehub/citehub/internal/fetch"
)

func TestGetAppliesDefaultUserAgent(t *testing.T) {
	t.Parallel()

	var gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := fetch.New(
		fetch.WithUserAgent("test-agent/1.0"),
		fetch.WithRateLimit(100, 10),
	)
	resp, err := client.Get(context.Background(), server.URL, nil)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, "test-agent/1.0", gotAgent)
}

func TestGetKeepsExplicitHeaders(t *testing.T) {
	t.Parallel()

	var gotAgent, gotCookie string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		gotCookie = r.Header.Get("Cookie")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := fetch.New(fetch.WithRateLimit(100, 10))
	header := http.Header{}
	header.Set("User-Agent", "override/2.0")
	header.Set("Cookie", "GSP=LM=1:S=abc")

	resp, err := client.Get(context.Background(), server.URL, header)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, "override/2.0", gotAgent)
	require.Equal(t, "GSP=LM=1:S=abc", gotCookie)
}

func TestGetJSON(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name": "Jane Doe", "count": 3}`))
	}))
	defer server.Close()

	client := fetch.New(fetch.WithRateLimit(100, 10))
	var got struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, client.GetJSON(context.Background(), server.URL, nil, &got))
	require.Equal(t, "Jane Doe", got.Name)
	require.Equal(t, 3, got.Count)
}

func TestGetJSONBadStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := fetch.New(fetch.WithRateLimit(100, 10))
	var got map[string]any
	err := client.GetJSON(context.Background(), server.URL, nil, &got)
	require.ErrorIs(t, err, fetch.ErrBadStatus)
}

func TestGetDocumentNormalizesNBSP(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body><div id=\"x\">Deep Learning</div></body></html>"))
	}))
	defer server.Close()

	client := fetch.New(fetch.WithRateLimit(100, 10))
	doc, err := client.GetDocument(context.Background(), server.URL, nil)
	require.NoError(t, err)
	require.Equal(t, "Deep Learning", doc.Find("#x").Text())
}

func TestDoHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	// Burst 1 at a tiny rate: the second wait cannot be satisfied before the
	// context expires.
	client := fetch.New(fetch.WithRateLimit(0.001, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:0", http.NoBody)
	require.NoError(t, err)
	_, err = client.Do(ctx, req)
	require.Error(t, err)
}
