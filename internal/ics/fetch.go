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
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"

	appLog "staysync/internal/log"
	"staysync/internal/model"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRedirects = 5
	maxFeedBytes        = 10 << 20
)

// Source represents a single external calendar feed.
type Source struct {
	// ID is the source identity stored on every booking from this feed.
	ID string
	// URL is the iCal endpoint.
	URL string
	// PropertyName labels every reservation parsed from this feed.
	PropertyName string
}

// FetchResult contains the outcome of fetching a single source.
type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool
	// Stale is the upstream failure when Body is the last cached copy
	// served in place of a fresh response. A 304 is not stale.
	Stale error
}

// cacheEntry holds HTTP cache metadata for a single feed URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Options configures a Fetcher. Zero values take defaults.
type Options struct {
	Timeout      time.Duration
	MaxRedirects int
	// Concurrency bounds how many feeds are fetched at once.
	Concurrency int
	// CacheDir enables the ETag / Last-Modified disk cache when non-empty.
	CacheDir string
	// Location defines "today" for the rolling window.
	Location *time.Location
	// Now is overridable for tests.
	Now func() time.Time
}

// Fetcher retrieves feeds and turns them into reservations. A failing
// source never aborts the others.
type Fetcher struct {
	client      *http.Client
	cacheDir    string
	concurrency int
	loc         *time.Location
	now         func() time.Time
}

// NewFetcher creates a Fetcher with bounded timeout and redirect count.
func NewFetcher(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	maxRedirects := opts.MaxRedirects
	return &Fetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		cacheDir:    opts.CacheDir,
		concurrency: opts.Concurrency,
		loc:         opts.Location,
		now:         opts.Now,
	}
}

// Summary aggregates per-source outcomes of one fetch run.
type Summary struct {
	TotalURLs            int      `json:"totalUrls"`
	SuccessfulURLs       int      `json:"successfulUrls"`
	FailedURLs           int      `json:"failedUrls"`
	TotalReservations    int      `json:"totalReservations"`
	FilteredReservations int      `json:"filteredReservations"`
	Errors               []string `json:"errors"`
}

// Outcome is the result of fetching a set of sources.
type Outcome struct {
	Reservations []model.Reservation
	Summary      Summary
	// Succeeded lists the source IDs whose feed was fetched and parsed.
	// Reconciliation only retires bookings of these sources.
	Succeeded []string
}

type sourceResult struct {
	reservations []model.Reservation
	err          error
}

// FetchAll fetches and parses every source with bounded parallelism.
// Reservations come back in source order.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) Outcome {
	results := make([]sourceResult, len(sources))

	p := pool.New().WithMaxGoroutines(f.concurrency)
	for i, src := range sources {
		i, src := i, src
		p.Go(func() {
			results[i] = f.fetchSource(ctx, src)
		})
	}
	p.Wait()

	out := Outcome{
		Reservations: make([]model.Reservation, 0),
		Summary:      Summary{TotalURLs: len(sources), Errors: []string{}},
		Succeeded:    make([]string, 0, len(sources)),
	}
	for i, res := range results {
		src := sources[i]
		if res.err != nil {
			out.Summary.FailedURLs++
			out.Summary.Errors = append(out.Summary.Errors, describeFailure(src, res.err))
			appLog.Error("ics fetch failed", res.err, "property", src.PropertyName, "url", appLog.RedactURL(src.URL))
			continue
		}
		out.Summary.SuccessfulURLs++
		out.Summary.TotalReservations += len(res.reservations)
		out.Succeeded = append(out.Succeeded, src.ID)
		out.Reservations = append(out.Reservations, res.reservations...)
	}
	out.Summary.FilteredReservations = len(out.Reservations)
	return out
}

func (f *Fetcher) fetchSource(ctx context.Context, src Source) sourceResult {
	res, err := f.FetchOne(ctx, src)
	if err != nil {
		return sourceResult{err: err}
	}
	// A stale copy could cancel bookings that still exist upstream.
	if res.Stale != nil {
		return sourceResult{err: fmt.Errorf("%w (cached copy not used)", res.Stale)}
	}
	reservations, err := ParseFeed(res.Body, src, ParseOptions{Now: f.now()})
	if err != nil {
		return sourceResult{err: err}
	}
	return sourceResult{reservations: reservations}
}

// describeFailure renders a summary line without leaking the feed token.
func describeFailure(src Source, err error) string {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}
	name := src.PropertyName
	if name == "" {
		name = src.ID
	}
	return fmt.Sprintf("error for %s (%s): %v", name, appLog.RedactURL(src.URL), err)
}

// SortBy selects the ordering key for reservations.
type SortBy string

const (
	SortByStart SortBy = "start"
	SortByEnd   SortBy = "end"
)

// ParseSortBy defaults to start.
func ParseSortBy(s string) SortBy {
	if s == string(SortByEnd) {
		return SortByEnd
	}
	return SortByStart
}

// Request selects reservations whose checkout falls within the next
// DaysAhead days.
type Request struct {
	Sources   []Source
	DaysAhead int
	SortBy    SortBy
}

// RangeRequest selects reservations overlapping [From, To].
type RangeRequest struct {
	Sources []Source
	From    time.Time
	To      time.Time
	SortBy  SortBy
}

// FetchReservations keeps reservations whose checkout day lies in
// [today, today+DaysAhead]. DaysAhead <= 0 keeps everything.
func (f *Fetcher) FetchReservations(ctx context.Context, req Request) Outcome {
	out := f.FetchAll(ctx, req.Sources)
	if req.DaysAhead > 0 {
		today := model.DayStart(f.now(), f.loc)
		cutoff := today.AddDate(0, 0, req.DaysAhead+1)
		out.Reservations = filterReservations(out.Reservations, func(r model.Reservation) bool {
			day := model.DayStart(r.End, f.loc)
			return !day.Before(today) && day.Before(cutoff)
		})
	}
	out.Summary.FilteredReservations = len(out.Reservations)
	SortReservations(out.Reservations, req.SortBy)
	return out
}

// FetchReservationsInRange keeps reservations overlapping the window:
// start <= To && end >= From.
func (f *Fetcher) FetchReservationsInRange(ctx context.Context, req RangeRequest) Outcome {
	out := f.FetchAll(ctx, req.Sources)
	out.Reservations = filterReservations(out.Reservations, func(r model.Reservation) bool {
		return model.OverlapsWindow(r.Start, r.End, req.From, req.To)
	})
	out.Summary.FilteredReservations = len(out.Reservations)
	SortReservations(out.Reservations, req.SortBy)
	return out
}

func filterReservations(in []model.Reservation, keep func(model.Reservation) bool) []model.Reservation {
	out := in[:0]
	for _, r := range in {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// SortReservations orders in place by the given key, uid breaking ties.
func SortReservations(rs []model.Reservation, by SortBy) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i].Start, rs[j].Start
		if by == SortByEnd {
			a, b = rs[i].End, rs[j].End
		}
		if !a.Equal(b) {
			return a.Before(b)
		}
		return rs[i].UID < rs[j].UID
	})
}

// FetchOne fetches a single source, honoring ETag and Last-Modified when a
// cache directory is configured.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}

	var (
		cachePath  string
		meta       cacheEntry
		cachedBody []byte
	)
	if f.cacheDir != "" {
		cachePath = f.cachePathForURL(src.URL)
		if err := os.MkdirAll(cachePath, 0o700); err != nil {
			return FetchResult{}, err
		}
		meta, _ = f.loadCacheMeta(cachePath)
		cachedBody, _ = f.loadCacheBody(cachePath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	appLog.Debug("ics fetch start", "source", src.ID, "url", appLog.RedactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Warn("ics fetch network error, cached body available", "url", appLog.RedactURL(src.URL), "err", err)
			return FetchResult{Source: src, Body: cachedBody, FromCache: true, Stale: err}, nil
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
		if readErr != nil {
			return FetchResult{}, readErr
		}

		if cachePath != "" {
			newMeta := cacheEntry{
				URL:          src.URL,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := f.saveCache(cachePath, newMeta, body); err != nil {
				appLog.Error("ics cache save failed", err, "url", appLog.RedactURL(src.URL))
			}
		}

		appLog.Debug("ics fetch success", "source", src.ID, "status", resp.StatusCode, "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("ics fetch not modified; using cache", "source", src.ID)
		return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil

	default:
		statusErr := fmt.Errorf("unexpected status %s", resp.Status)
		if len(cachedBody) > 0 {
			appLog.Warn("ics fetch non-OK, cached body available", "url", appLog.RedactURL(src.URL), "status", resp.StatusCode)
			return FetchResult{Source: src, Body: cachedBody, FromCache: true, Stale: statusErr}, nil
		}
		return FetchResult{}, statusErr
	}
}

func (f *Fetcher) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}
