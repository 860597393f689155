package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"smartcal/internal/config"
	appLog "smartcal/internal/log"
	"smartcal/internal/store"
)

const maxBodyBytes = 8 << 20

// Source is a single calendar subscription.
type Source struct {
	ID   string
	Name string
	URL  string
}

// SourcesFromConfig converts the configured subscriptions, skipping blank URLs.
func SourcesFromConfig(in []config.SourceConfig) []Source {
	out := make([]Source, 0, len(in))
	for _, s := range in {
		if s.URL == "" {
			continue
		}
		id := s.ID
		if id == "" {
			id = cacheKey(s.URL)
		}
		out = append(out, Source{ID: id, Name: s.Name, URL: s.URL})
	}
	return out
}

// FetchResult contains the outcome of fetching a single source.
type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool // body reused after 304 or a failed request
}

// cacheEntry holds HTTP validators and the last good body for one URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	Body         string    `json:"body"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads ICS feeds with conditional GET. Validators and bodies are
// cached through a store.KV so a restart still sends If-None-Match.
type Fetcher struct {
	client *http.Client
	cache  store.KV
}

// NewFetcher creates a Fetcher. A nil cache disables caching.
func NewFetcher(cache store.KV, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cache: cache}
}

// FetchAll fetches every source. Failed sources are logged and reported in
// the error slice; results only hold sources that produced a body.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	results := make([]FetchResult, 0, len(sources))
	var errs []error

	for _, src := range sources {
		res, err := f.FetchOne(ctx, src)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.ID, err))
			appLog.Error("ics fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// FetchOne fetches a single source, honoring ETag and Last-Modified.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}

	key := "ics." + cacheKey(src.URL)
	cached := f.loadCache(ctx, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	req.Header.Set("Accept", "text/calendar")
	if cached.ETag != "" {
		req.Header.Set("If-None-Match", cached.ETag)
	}
	if cached.LastModified != "" {
		req.Header.Set("If-Modified-Since", cached.LastModified)
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", redactURL(src.URL))

	fromCache := func() (FetchResult, bool) {
		if cached.Body == "" {
			return FetchResult{}, false
		}
		return FetchResult{Source: src, Body: []byte(cached.Body), FromCache: true}, true
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if res, ok := fromCache(); ok {
			appLog.Error("ics fetch network error, using cached body", err, "id", src.ID, "url", redactURL(src.URL))
			return res, nil
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return FetchResult{}, err
		}
		f.saveCache(ctx, key, cacheEntry{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			Body:         string(body),
			UpdatedAt:    time.Now().UTC(),
		})
		appLog.Info("ics fetch success", "id", src.ID, "url", redactURL(src.URL), "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		res, ok := fromCache()
		if !ok {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Info("ics fetch not modified; using cache", "id", src.ID, "url", redactURL(src.URL))
		return res, nil

	default:
		statusErr := errors.New(resp.Status)
		if res, ok := fromCache(); ok {
			appLog.Error("ics fetch non-OK, using cached body", statusErr, "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode)
			return res, nil
		}
		return FetchResult{}, statusErr
	}
}

func (f *Fetcher) loadCache(ctx context.Context, key string) cacheEntry {
	var entry cacheEntry
	if f.cache == nil {
		return entry
	}
	raw, err := f.cache.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			appLog.Warn("ics cache load failed", "key", key, "err", err)
		}
		return entry
	}
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		appLog.Warn("ics cache entry unreadable", "key", key, "err", err)
		return cacheEntry{}
	}
	return entry
}

func (f *Fetcher) saveCache(ctx context.Context, key string, entry cacheEntry) {
	if f.cache == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		appLog.Error("ics cache encode failed", err, "key", key)
		return
	}
	if err := f.cache.Save(ctx, key, string(data)); err != nil {
		appLog.Error("ics cache save failed", err, "key", key)
	}
}

// cacheKey is the first 16 hex chars of the URL's sha256.
func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:8])
}

// redactURL hides everything after the host of a subscription URL.
//
//	https://example.com/path/to/private.ics?token=abcd -> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
