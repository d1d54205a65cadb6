package model

import "time"

// BookingID identifies a persisted booking row.
type BookingID int64

// Status is the lifecycle state of a booking. Bookings are retired by moving
// them to StatusCancelled, never by deleting the row (manual parts aside).
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
)

// ManualType tags the kind of operator override a manual booking represents.
type ManualType string

const (
	ManualNone   ManualType = ""
	ManualMerged ManualType = "merged"
	ManualSplit  ManualType = "split"
	ManualBlock  ManualType = "block"
)

// ManualSource is the source identity carried by every manual booking.
const ManualSource = "manual"

// DefaultPropertyName labels reservations whose feed had no property attached.
const DefaultPropertyName = "Unknown"

// Key is the external identity of an upstream booking.
type Key struct {
	UID    string
	Source string
}

// Reservation is a record parsed from an external calendar feed. It lives for
// one fetch and is discarded after reconciliation.
type Reservation struct {
	UID          string `json:"uid"`
	Source       string `json:"source"`
	PropertyName string `json:"propertyName"`

	// Start / End are half-open. All-day values sit on UTC midnight.
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	AllDay bool      `json:"allDay"`

	Summary     string `json:"summary"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

func (r Reservation) Key() Key {
	return Key{UID: r.UID, Source: r.Source}
}

// SnapshotEntry records the dates of an original booking at the moment a
// manual edit was made from it.
type SnapshotEntry struct {
	UID    string    `json:"uid"`
	Source string    `json:"source"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// Booking is the persisted canonical record, either upstream-sourced or
// manual.
type Booking struct {
	ID BookingID `json:"id"`

	UID          string    `json:"uid"`
	Source       string    `json:"source"`
	PropertyName string    `json:"propertyName"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	AllDay       bool      `json:"allDay"`
	Summary      string    `json:"summary"`
	Description  string    `json:"description"`
	Location     string    `json:"location"`

	// User annotations, preserved across reconciliation.
	Guests *int   `json:"guests,omitempty"`
	Notes  string `json:"notes"`

	Status Status `json:"status"`

	IsManual       bool            `json:"isManual"`
	ManualType     ManualType      `json:"manualType,omitempty"`
	MergedFromIDs  []BookingID     `json:"mergedFromIds,omitempty"`
	SplitFromID    *BookingID      `json:"splitFromId,omitempty"`
	SourceSnapshot []SnapshotEntry `json:"sourceSnapshot,omitempty"`
	BlockReason    string          `json:"blockReason,omitempty"`
	HasConflict    bool            `json:"hasConflict"`

	IsUrgentChangeover bool `json:"isUrgentChangeover"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (b Booking) Key() Key {
	return Key{UID: b.UID, Source: b.Source}
}

func (b Booking) Active() bool {
	return b.Status != StatusCancelled
}

func (b Booking) IsBlock() bool {
	return b.IsManual && b.ManualType == ManualBlock
}

// Snapshot captures the booking's current dates for a manual edit's
// provenance record.
func (b Booking) Snapshot() SnapshotEntry {
	return SnapshotEntry{UID: b.UID, Source: b.Source, Start: b.Start, End: b.End}
}

// NewBookingFromReservation is the single conversion from a parsed
// reservation to a fresh, active, upstream booking.
func NewBookingFromReservation(r Reservation) Booking {
	name := r.PropertyName
	if name == "" {
		name = DefaultPropertyName
	}
	return Booking{
		UID:          r.UID,
		Source:       r.Source,
		PropertyName: name,
		Start:        r.Start,
		End:          r.End,
		AllDay:       r.AllDay,
		Summary:      r.Summary,
		Description:  r.Description,
		Location:     r.Location,
		Status:       StatusActive,
	}
}

// HiddenIDs computes which bookings are superseded by an active manual edit.
// The set is derived on every read and never stored.
func HiddenIDs(bookings []Booking) map[BookingID]struct{} {
	hidden := make(map[BookingID]struct{})
	for _, b := range bookings {
		if !b.IsManual || !b.Active() {
			continue
		}
		for _, id := range b.MergedFromIDs {
			hidden[id] = struct{}{}
		}
		if b.SplitFromID != nil {
			hidden[*b.SplitFromID] = struct{}{}
		}
	}
	return hidden
}

// Property is a rental unit as known to the store: the registry entry plus
// its export token.
type Property struct {
	Name         string  `json:"name" db:"name"`
	DisplayName  string  `json:"displayName" db:"display_name"`
	Group        string  `json:"group" db:"group_name"`
	CleaningCost float64 `json:"cleaningCost" db:"cleaning_cost"`
	ExportToken  string  `json:"exportToken" db:"export_token"`
}

// ConflictReport describes a manual booking whose originals changed upstream
// after the edit was made.
type ConflictReport struct {
	ManualBooking    ConflictBooking   `json:"manualBooking"`
	ChangedOriginals []ChangedOriginal `json:"changedOriginals"`
	Reason           string            `json:"reason"`
}

type ConflictBooking struct {
	ID           BookingID  `json:"id"`
	PropertyName string     `json:"propertyName"`
	Start        time.Time  `json:"start"`
	End          time.Time  `json:"end"`
	ManualType   ManualType `json:"manualType"`
}

type ChangedOriginal struct {
	UID           string    `json:"uid"`
	Source        string    `json:"source"`
	SnapshotStart time.Time `json:"snapshotStart"`
	SnapshotEnd   time.Time `json:"snapshotEnd"`
	NewStart      time.Time `json:"newStart"`
	NewEnd        time.Time `json:"newEnd"`
}
