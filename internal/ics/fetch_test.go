package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcal/internal/config"
	"smartcal/internal/store"
)

const feed = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n"

func TestFetchOneConditionalGet(t *testing.T) {
	var hits, conditional atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	ctx := context.Background()
	kv := store.NewMemory()
	src := Source{ID: "s", URL: srv.URL + "/cal.ics"}

	res, err := NewFetcher(kv, srv.Client()).FetchOne(ctx, src)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, feed, string(res.Body))

	// A new fetcher over the same store still sends the validator.
	res, err = NewFetcher(kv, srv.Client()).FetchOne(ctx, src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, feed, string(res.Body))
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), conditional.Load())
}

func TestFetchOneFallsBackToCache(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	ctx := context.Background()
	f := NewFetcher(store.NewMemory(), srv.Client())
	src := Source{ID: "s", URL: srv.URL}

	_, err := f.FetchOne(ctx, src)
	require.NoError(t, err)

	fail.Store(true)
	res, err := f.FetchOne(ctx, src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)

	srv.Close()
	res, err = f.FetchOne(ctx, src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
}

func TestFetchAllReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	f := NewFetcher(nil, srv.Client())
	results, errs := f.FetchAll(context.Background(), []Source{
		{ID: "ok", URL: srv.URL + "/ok"},
		{ID: "missing", URL: srv.URL + "/missing"},
		{ID: "blank"},
	})
	require.Len(t, results, 1)
	assert.Equal(t, "ok", results[0].Source.ID)
	assert.Len(t, errs, 2)
}

func TestFetchOneNotModifiedWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	_, err := NewFetcher(nil, srv.Client()).FetchOne(context.Background(), Source{ID: "s", URL: srv.URL})
	assert.Error(t, err)
}

func TestSourcesFromConfig(t *testing.T) {
	got := SourcesFromConfig([]config.SourceConfig{
		{URL: "https://a.example.com/a.ics", ID: "a", Name: "A"},
		{URL: ""},
		{URL: "https://b.example.com/b.ics"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, Source{ID: "a", Name: "A", URL: "https://a.example.com/a.ics"}, got[0])
	assert.Equal(t, cacheKey("https://b.example.com/b.ics"), got[1].ID)
}
