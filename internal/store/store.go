// Package store persists bookings and the property registry.
package store

import (
	"context"
	"errors"
	"time"

	"staysync/internal/model"
)

var ErrNotFound = errors.New("store: not found")

// ManualFilter narrows a query by upstream/manual origin.
type ManualFilter int

const (
	ManualAny ManualFilter = iota
	ManualOnly
	ManualExclude
)

// Filter selects bookings. Zero-valued fields do not constrain the query.
type Filter struct {
	PropertyNames []string
	Sources       []string

	// From / To select bookings overlapping the window, inclusive on both
	// ends: start <= To && end >= From.
	From time.Time
	To   time.Time

	Manual     ManualFilter
	ManualType model.ManualType

	IncludeCancelled bool
	ExcludeID        model.BookingID
}

// UpsertOp writes an upstream booking keyed by (uid, source). An existing
// row keeps its annotations (guests, notes) and manual provenance; its
// status is only reset to active when ClearCancellation is set.
type UpsertOp struct {
	Booking           model.Booking
	ClearCancellation bool
}

// UpdateOp patches one booking. Nil fields are left untouched.
type UpdateOp struct {
	ID                 model.BookingID
	Status             *model.Status
	IsUrgentChangeover *bool
	HasConflict        *bool
	Start              *time.Time
	End                *time.Time
	BlockReason        *string
	Guests             *int
	Notes              *string

	// ClearGuests resets the guest count to unknown and wins over Guests.
	ClearGuests bool
}

// Store is the persistence contract used by reconciliation, manual edits and
// reporting. Each call is atomic on its own; a sequence of calls is not.
type Store interface {
	FindBookings(ctx context.Context, f Filter) ([]model.Booking, error)
	FindByKeys(ctx context.Context, keys []model.Key) (map[model.Key]model.Booking, error)
	FindByID(ctx context.Context, id model.BookingID) (model.Booking, error)

	BulkUpsert(ctx context.Context, ops []UpsertOp) (int, error)
	BulkUpdate(ctx context.Context, ops []UpdateOp) (int, error)
	Create(ctx context.Context, b *model.Booking) error
	DeleteByID(ctx context.Context, id model.BookingID) error
	DeleteSplitParts(ctx context.Context, splitFromID model.BookingID) (int, error)

	SyncProperties(ctx context.Context, props []model.Property) error
	ListProperties(ctx context.Context) ([]model.Property, error)
	PropertyByName(ctx context.Context, name string) (model.Property, error)
	PropertyByToken(ctx context.Context, token string) (model.Property, error)
	SetExportToken(ctx context.Context, name, token string) error

	Close() error
}

// Helpers for building UpdateOps.

func StatusPtr(s model.Status) *model.Status { return &s }

func BoolPtr(b bool) *bool { return &b }

func TimePtr(t time.Time) *time.Time { return &t }

func StringPtr(s string) *string { return &s }

func IntPtr(n int) *int { return &n }
