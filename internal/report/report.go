// Package report serves read-only views of the booking store: the visible
// booking list and cleaning cost summaries.
package report

import (
	"context"
	"sort"
	"time"

	"staysync/internal/model"
	"staysync/internal/store"
)

const (
	DefaultDaysAhead = 35
	DefaultLimit     = 30
	// WideLimit applies when the caller asked for everything or an explicit
	// range.
	WideLimit = 1000
)

type Options struct {
	Store    store.Store
	Location *time.Location
	Now      func() time.Time
}

type Service struct {
	store store.Store
	loc   *time.Location
	now   func() time.Time
}

func NewService(opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: opts.Store, loc: opts.Location, now: opts.Now}
}

// Today is the current calendar day as a UTC-midnight date value.
func (s *Service) Today() time.Time {
	return model.DayStart(s.now(), s.loc)
}

// resolveProperties narrows by group. A nil result means every property.
func (s *Service) resolveProperties(ctx context.Context, names []string, group string) ([]string, error) {
	if group == "" {
		return names, nil
	}
	props, err := s.store.ListProperties(ctx)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	out := make([]string, 0)
	for _, p := range props {
		if p.Group != group {
			continue
		}
		if len(wanted) > 0 && !wanted[p.Name] {
			continue
		}
		out = append(out, p.Name)
	}
	return out, nil
}

// visible loads bookings of the given properties overlapping the coarse
// window, minus originals hidden behind an active manual edit.
func (s *Service) visible(ctx context.Context, props []string, from, to time.Time, includeCancelled bool) ([]model.Booking, error) {
	manuals, err := s.store.FindBookings(ctx, store.Filter{PropertyNames: props, Manual: store.ManualOnly})
	if err != nil {
		return nil, err
	}
	hidden := model.HiddenIDs(manuals)

	f := store.Filter{PropertyNames: props, IncludeCancelled: includeCancelled}
	// One day of slack on each side: timestamped bookings are bucketed by
	// local day, which can straddle UTC midnight.
	if !from.IsZero() {
		f.From = from.AddDate(0, 0, -1)
	}
	if !to.IsZero() {
		f.To = to.AddDate(0, 0, 2)
	}
	all, err := s.store.FindBookings(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]model.Booking, 0, len(all))
	for _, b := range all {
		if _, ok := hidden[b.ID]; !ok {
			out = append(out, b)
		}
	}
	return out, nil
}

// inDays reports whether t's calendar day lies in [from, to]; zero bounds
// are open.
func (s *Service) inDays(t, from, to time.Time) bool {
	d := model.DayOf(t, s.loc)
	if !from.IsZero() && d < model.DayOf(from, time.UTC) {
		return false
	}
	if !to.IsZero() && d > model.DayOf(to, time.UTC) {
		return false
	}
	return true
}

// SortByEnd orders by checkout, then check-in, then id.
func SortByEnd(bs []model.Booking) {
	sort.SliceStable(bs, func(i, j int) bool {
		if !bs[i].End.Equal(bs[j].End) {
			return bs[i].End.Before(bs[j].End)
		}
		if !bs[i].Start.Equal(bs[j].Start) {
			return bs[i].Start.Before(bs[j].Start)
		}
		return bs[i].ID < bs[j].ID
	})
}
