package report

import (
	"context"
	"errors"
	"sort"
	"time"

	"staysync/internal/model"
)

var ErrBadRange = errors.New("from must not be after to")

type PropertyCost struct {
	Name         string  `json:"name"`
	Checkouts    int     `json:"checkouts"`
	CleaningCost float64 `json:"cleaningCost"`
	Cost         float64 `json:"cost"`
}

// CleaningSummary is the cleaning bill for checkouts in [From, To].
type CleaningSummary struct {
	From         string         `json:"from"`
	To           string         `json:"to"`
	Total        float64        `json:"total"`
	BookingCount int            `json:"bookingCount"`
	Properties   []PropertyCost `json:"propertyDetails"`
}

// Cleaning sums one cleaning per visible, active stay checking out within
// the day range. Blocks are not stays and cost nothing.
func (s *Service) Cleaning(ctx context.Context, from, to time.Time) (CleaningSummary, error) {
	if from.After(to) {
		return CleaningSummary{}, ErrBadRange
	}
	props, err := s.store.ListProperties(ctx)
	if err != nil {
		return CleaningSummary{}, err
	}
	rates := make(map[string]float64, len(props))
	for _, p := range props {
		rates[p.Name] = p.CleaningCost
	}

	bookings, err := s.visible(ctx, nil, from, time.Time{}, false)
	if err != nil {
		return CleaningSummary{}, err
	}

	byProperty := make(map[string]*PropertyCost)
	out := CleaningSummary{
		From:       model.DayOf(from, time.UTC),
		To:         model.DayOf(to, time.UTC),
		Properties: []PropertyCost{},
	}
	for _, b := range bookings {
		if b.IsBlock() || !s.inDays(b.End, from, to) {
			continue
		}
		pc, ok := byProperty[b.PropertyName]
		if !ok {
			pc = &PropertyCost{Name: b.PropertyName, CleaningCost: rates[b.PropertyName]}
			byProperty[b.PropertyName] = pc
		}
		pc.Checkouts++
		pc.Cost += pc.CleaningCost
		out.BookingCount++
	}
	for _, pc := range byProperty {
		out.Total += pc.Cost
		out.Properties = append(out.Properties, *pc)
	}
	sort.Slice(out.Properties, func(i, j int) bool { return out.Properties[i].Name < out.Properties[j].Name })
	return out, nil
}

// monthBounds returns the first and last day of the month offset months
// from the current one.
func (s *Service) monthBounds(offset int) (time.Time, time.Time) {
	today := s.Today()
	first := time.Date(today.Year(), today.Month()+time.Month(offset), 1, 0, 0, 0, 0, time.UTC)
	return first, first.AddDate(0, 1, -1)
}

func (s *Service) CurrentMonth(ctx context.Context) (CleaningSummary, error) {
	from, to := s.monthBounds(0)
	return s.Cleaning(ctx, from, to)
}

func (s *Service) NextMonth(ctx context.Context) (CleaningSummary, error) {
	from, to := s.monthBounds(1)
	return s.Cleaning(ctx, from, to)
}
