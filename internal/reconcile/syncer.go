package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"staysync/internal/config"
	"staysync/internal/ics"
	appLog "staysync/internal/log"
	"staysync/internal/model"
	"staysync/internal/store"
)

// DefaultWindowDays is the sync horizon when a request gives no end date.
const DefaultWindowDays = 365

var ErrNoSources = errors.New("no feed sources selected")

// Fetcher is the part of ics.Fetcher the syncer needs.
type Fetcher interface {
	FetchReservations(ctx context.Context, req ics.Request) ics.Outcome
	FetchReservationsInRange(ctx context.Context, req ics.RangeRequest) ics.Outcome
}

// SourceLister resolves a property selection into feed sources.
type SourceLister interface {
	FeedSources(f config.SourceFilter) []ics.Source
}

// Request selects what to sync. Empty PropertyNames and Group mean all
// configured properties. A zero From means today; a zero To means
// From + DefaultWindowDays.
type Request struct {
	PropertyNames []string
	Group         string
	From          time.Time
	To            time.Time
}

// Result reports one sync run.
type Result struct {
	SyncID             string                 `json:"syncId"`
	PropertiesSynced   []string               `json:"propertiesSynced"`
	BookingsInserted   int                    `json:"bookingsInserted"`
	BookingsUpdated    int                    `json:"bookingsUpdated"`
	BookingsUnchanged  int                    `json:"bookingsUnchanged"`
	BookingsCancelled  int                    `json:"bookingsCancelled"`
	ChangeoversUpdated int                    `json:"changeoversUpdated"`
	BlockConflicts     int                    `json:"blockConflicts"`
	Conflicts          []model.ConflictReport `json:"conflicts"`
	Summary            ics.Summary            `json:"summary"`
	StartedAt          time.Time              `json:"startedAt"`
	DurationMS         int64                  `json:"durationMs"`
}

type Options struct {
	Store    store.Store
	Fetcher  Fetcher
	Sources  SourceLister
	Location *time.Location
	Now      func() time.Time
}

// Syncer runs reconciliation against the store. Runs are serialized.
type Syncer struct {
	store   store.Store
	fetcher Fetcher
	sources SourceLister
	loc     *time.Location
	now     func() time.Time

	runMu sync.Mutex

	mu   sync.RWMutex
	last *Result
}

func NewSyncer(opts Options) *Syncer {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Syncer{
		store:   opts.Store,
		fetcher: opts.Fetcher,
		sources: opts.Sources,
		loc:     opts.Location,
		now:     opts.Now,
	}
}

// Window resolves a request's defaults.
func (s *Syncer) Window(req Request) (time.Time, time.Time) {
	from := req.From
	if from.IsZero() {
		from = model.DayStart(s.now(), s.loc)
	}
	to := req.To
	if to.IsZero() {
		to = from.AddDate(0, 0, DefaultWindowDays)
	}
	return from, to
}

func (s *Syncer) selectSources(req Request) ([]ics.Source, []string, error) {
	sources := s.sources.FeedSources(config.SourceFilter{Group: req.Group, PropertyNames: req.PropertyNames})
	if len(sources) == 0 {
		return nil, nil, ErrNoSources
	}
	seen := make(map[string]bool)
	var props []string
	for _, src := range sources {
		if !seen[src.PropertyName] {
			seen[src.PropertyName] = true
			props = append(props, src.PropertyName)
		}
	}
	sort.Strings(props)
	return sources, props, nil
}

// Preview fetches the selected feeds without touching the store.
func (s *Syncer) Preview(ctx context.Context, req Request, by ics.SortBy) (ics.Outcome, error) {
	sources, _, err := s.selectSources(req)
	if err != nil {
		return ics.Outcome{}, err
	}
	from, to := s.Window(req)
	return s.fetcher.FetchReservationsInRange(ctx, ics.RangeRequest{Sources: sources, From: from, To: to, SortBy: by}), nil
}

// PreviewDaysAhead fetches without writes, keeping reservations whose
// checkout day falls in [today, today+daysAhead]. From/To of req are ignored.
func (s *Syncer) PreviewDaysAhead(ctx context.Context, req Request, daysAhead int, by ics.SortBy) (ics.Outcome, error) {
	sources, _, err := s.selectSources(req)
	if err != nil {
		return ics.Outcome{}, err
	}
	return s.fetcher.FetchReservations(ctx, ics.Request{Sources: sources, DaysAhead: daysAhead, SortBy: by}), nil
}

// Sync fetches the selected feeds and reconciles them into the store.
//
// Only bookings of sources that fetched successfully are candidates for
// cancellation. A store write failure aborts the run; writes already made
// stay, and the next run converges.
func (s *Syncer) Sync(ctx context.Context, req Request) (*Result, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	started := s.now()
	sources, props, err := s.selectSources(req)
	if err != nil {
		return nil, err
	}
	from, to := s.Window(req)
	res := &Result{
		SyncID:           uuid.NewString(),
		PropertiesSynced: props,
		StartedAt:        started,
	}
	appLog.Info("sync start", "sync_id", res.SyncID, "properties", len(props), "sources", len(sources),
		"from", model.DayOf(from, s.loc), "to", model.DayOf(to, s.loc))

	outcome := s.fetcher.FetchReservationsInRange(ctx, ics.RangeRequest{Sources: sources, From: from, To: to})
	res.Summary = outcome.Summary

	var existing []model.Booking
	if len(outcome.Succeeded) > 0 {
		existing, err = s.store.FindBookings(ctx, store.Filter{
			Sources: outcome.Succeeded,
			From:    from,
			To:      to,
			Manual:  store.ManualExclude,
		})
		if err != nil {
			return nil, fmt.Errorf("load existing bookings: %w", err)
		}
	}

	keys := make([]model.Key, 0, len(outcome.Reservations))
	for _, r := range outcome.Reservations {
		keys = append(keys, r.Key())
	}
	known, err := s.store.FindByKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load known bookings: %w", err)
	}

	manuals, err := s.store.FindBookings(ctx, store.Filter{PropertyNames: props, Manual: store.ManualOnly})
	if err != nil {
		return nil, fmt.Errorf("load manual bookings: %w", err)
	}
	hidden := model.HiddenIDs(manuals)

	changes := Plan(PlanInput{Existing: existing, Known: known, Fresh: outcome.Reservations, Hidden: hidden})
	if _, err := s.store.BulkUpsert(ctx, changes.Upserts); err != nil {
		return nil, fmt.Errorf("upsert bookings: %w", err)
	}
	if _, err := s.store.BulkUpdate(ctx, changes.Cancels); err != nil {
		return nil, fmt.Errorf("cancel bookings: %w", err)
	}
	res.BookingsInserted = changes.Inserted
	res.BookingsUpdated = changes.Updated
	res.BookingsUnchanged = changes.Unchanged
	res.BookingsCancelled = len(changes.Cancels)

	// Changeover partners may check in after the window ends, so the
	// re-read is open-ended.
	active, err := s.store.FindBookings(ctx, store.Filter{PropertyNames: props, From: from})
	if err != nil {
		return nil, fmt.Errorf("reload bookings: %w", err)
	}
	changeovers := Changeovers(active, hidden, s.loc)
	if _, err := s.store.BulkUpdate(ctx, changeovers); err != nil {
		return nil, fmt.Errorf("update changeovers: %w", err)
	}
	res.ChangeoversUpdated = len(changeovers)

	blockOps := BlockConflicts(active)
	if _, err := s.store.BulkUpdate(ctx, blockOps); err != nil {
		return nil, fmt.Errorf("flag block conflicts: %w", err)
	}
	res.BlockConflicts = len(blockOps)

	res.Conflicts = DetectConflicts(manuals, outcome.Reservations, s.loc)
	res.DurationMS = s.now().Sub(started).Milliseconds()

	s.mu.Lock()
	s.last = res
	s.mu.Unlock()

	appLog.Info("sync done",
		"sync_id", res.SyncID,
		"inserted", res.BookingsInserted,
		"updated", res.BookingsUpdated,
		"unchanged", res.BookingsUnchanged,
		"cancelled", res.BookingsCancelled,
		"changeovers", res.ChangeoversUpdated,
		"block_conflicts", res.BlockConflicts,
		"conflicts", len(res.Conflicts),
		"failed_urls", res.Summary.FailedURLs,
		"duration_ms", res.DurationMS,
	)
	return res, nil
}

// LastResult returns the most recent successful run, or nil.
func (s *Syncer) LastResult() *Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// LastConflicts returns the conflict reports of the most recent run.
func (s *Syncer) LastConflicts() []model.ConflictReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return []model.ConflictReport{}
	}
	return s.last.Conflicts
}
