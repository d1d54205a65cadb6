package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDay(s)
	require.NoError(t, err)
	return d
}

func TestHiddenIDs(t *testing.T) {
	splitFrom := BookingID(7)
	bookings := []Booking{
		{ID: 1},
		{ID: 10, IsManual: true, ManualType: ManualMerged, MergedFromIDs: []BookingID{2, 3}, Status: StatusActive},
		{ID: 11, IsManual: true, ManualType: ManualSplit, SplitFromID: &splitFrom, Status: StatusActive},
		{ID: 12, IsManual: true, ManualType: ManualMerged, MergedFromIDs: []BookingID{4, 5}, Status: StatusCancelled},
	}

	hidden := HiddenIDs(bookings)

	assert.Len(t, hidden, 3)
	for _, id := range []BookingID{2, 3, 7} {
		assert.Contains(t, hidden, id)
	}
	assert.NotContains(t, hidden, BookingID(4), "cancelled manual bookings do not hide their originals")
}

func TestDayOf(t *testing.T) {
	warsaw, err := time.LoadLocation("Europe/Warsaw")
	require.NoError(t, err)
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	allDay := day(t, "2025-06-10")
	assert.Equal(t, "2025-06-10", DayOf(allDay, ny), "date values keep their UTC date")

	// 22:00Z is already the next day in Warsaw.
	late := time.Date(2025, 6, 9, 22, 30, 0, 0, time.UTC)
	assert.Equal(t, "2025-06-10", DayOf(late, warsaw))
	assert.True(t, SameDay(late, allDay, warsaw))
}

func TestOverlaps(t *testing.T) {
	a1, a2 := day(t, "2025-07-01"), day(t, "2025-07-05")

	assert.False(t, Overlaps(a1, a2, day(t, "2025-07-05"), day(t, "2025-07-08")), "same-day turnover")
	assert.True(t, Overlaps(a1, a2, day(t, "2025-07-04"), day(t, "2025-07-08")))
	assert.True(t, OverlapsWindow(a1, a2, a2, day(t, "2025-07-10")), "window test is inclusive")
}

func TestNewBookingFromReservation(t *testing.T) {
	b := NewBookingFromReservation(Reservation{UID: "u1", Source: "airbnb", Start: day(t, "2025-06-01"), End: day(t, "2025-06-03")})

	assert.Equal(t, DefaultPropertyName, b.PropertyName)
	assert.Equal(t, StatusActive, b.Status)
	assert.Equal(t, Key{UID: "u1", Source: "airbnb"}, b.Key())
	assert.False(t, b.IsManual)
}
