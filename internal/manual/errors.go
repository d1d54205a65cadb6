package manual

import (
	"errors"
	"fmt"
	"time"

	"staysync/internal/model"
)

var (
	ErrNotFound = errors.New("booking not found")
	// ErrSuperseded rejects an edit of a booking that another active manual
	// edit already replaces.
	ErrSuperseded = errors.New("booking is already superseded by a manual edit")
)

// ValidationError is a rejected request; nothing was written.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

type OverlapType string

const (
	OverlapBlock OverlapType = "block-overlap"
	OverlapICal  OverlapType = "ical-overlap"
)

// Overlapping is the slice of a booking shown to the caller when a block
// is rejected.
type Overlapping struct {
	ID          model.BookingID `json:"id"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	Source      string          `json:"source,omitempty"`
	BlockReason string          `json:"blockReason,omitempty"`
}

// OverlapError rejects a block whose dates collide with existing bookings.
type OverlapError struct {
	Type      OverlapType
	Conflicts []Overlapping
}

func (e *OverlapError) Error() string {
	switch e.Type {
	case OverlapBlock:
		return "block overlaps with an existing block"
	default:
		return "dates are taken by a booking from an external platform"
	}
}

func overlapError(t OverlapType, bookings []model.Booking) *OverlapError {
	e := &OverlapError{Type: t, Conflicts: make([]Overlapping, 0, len(bookings))}
	for _, b := range bookings {
		o := Overlapping{ID: b.ID, Start: b.Start, End: b.End, BlockReason: b.BlockReason}
		if !b.IsManual {
			o.Source = b.Source
		}
		e.Conflicts = append(e.Conflicts, o)
	}
	return e
}
