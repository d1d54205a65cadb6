package report

import (
	"context"
	"time"

	"staysync/internal/model"
)

// DateField selects which end of a stay a date range applies to.
type DateField string

const (
	FieldEnd   DateField = "end"
	FieldStart DateField = "start"
)

// Query selects a page of visible bookings.
//
// With All set no date filter applies. Otherwise From/To (either may be
// zero) bound the calendar day of Field, and with neither given the
// checkout day must fall in [today, today+DaysAhead].
type Query struct {
	PropertyNames []string
	Group         string

	From      time.Time
	To        time.Time
	Field     DateField
	DaysAhead int
	All       bool

	IncludeCancelled bool

	Page  int
	Limit int
}

// Page is one slice of a booking listing.
type Page struct {
	Rows       []model.Booking `json:"rows"`
	Count      int             `json:"count"`
	TotalCount int             `json:"totalCount"`
	HasMore    bool            `json:"hasMore"`
}

func (q Query) explicitRange() bool {
	return !q.From.IsZero() || !q.To.IsZero()
}

// Bookings lists visible bookings ordered by checkout then check-in.
func (s *Service) Bookings(ctx context.Context, q Query) (Page, error) {
	props, err := s.resolveProperties(ctx, q.PropertyNames, q.Group)
	if err != nil {
		return Page{}, err
	}
	if props != nil && len(props) == 0 {
		return Page{Rows: []model.Booking{}}, nil
	}

	var (
		from, to time.Time
		field    = q.Field
	)
	switch {
	case q.All:
	case q.explicitRange():
		from, to = q.From, q.To
	default:
		days := q.DaysAhead
		if days <= 0 {
			days = DefaultDaysAhead
		}
		field = FieldEnd
		from = s.Today()
		to = from.AddDate(0, 0, days)
	}
	if field != FieldStart {
		field = FieldEnd
	}

	// Coarse window for the store; the exact day test follows.
	coarseFrom, coarseTo := from, to
	if field == FieldStart {
		coarseFrom = time.Time{}
	} else {
		coarseTo = time.Time{}
	}
	rows, err := s.visible(ctx, props, coarseFrom, coarseTo, q.IncludeCancelled)
	if err != nil {
		return Page{}, err
	}

	matched := make([]model.Booking, 0, len(rows))
	for _, b := range rows {
		at := b.End
		if field == FieldStart {
			at = b.Start
		}
		if s.inDays(at, from, to) {
			matched = append(matched, b)
		}
	}
	SortByEnd(matched)

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
		if q.All || q.explicitRange() {
			limit = WideLimit
		}
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	start := min((page-1)*limit, len(matched))
	end := min(start+limit, len(matched))

	return Page{
		Rows:       matched[start:end],
		Count:      end - start,
		TotalCount: len(matched),
		HasMore:    page*limit < len(matched),
	}, nil
}
