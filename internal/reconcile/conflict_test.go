package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staysync/internal/model"
)

func mergedFrom(id model.BookingID, originals ...model.Booking) model.Booking {
	m := model.Booking{
		ID: id, UID: "MANUAL-merge", Source: model.ManualSource, PropertyName: "seaside",
		Start: originals[0].Start, End: originals[len(originals)-1].End,
		Status: model.StatusActive, IsManual: true, ManualType: model.ManualMerged,
	}
	for _, o := range originals {
		m.MergedFromIDs = append(m.MergedFromIDs, o.ID)
		m.SourceSnapshot = append(m.SourceSnapshot, o.Snapshot())
	}
	return m
}

func TestDetectConflicts_OneOriginalMoved(t *testing.T) {
	ra := res("a", "airbnb", "seaside", day(2025, 6, 1), day(2025, 6, 5))
	rb := res("b", "booking", "seaside", day(2025, 6, 5), day(2025, 6, 8))
	m := mergedFrom(10, stored(1, ra), stored(2, rb))

	rb.End = day(2025, 6, 9)
	reports := DetectConflicts([]model.Booking{m}, []model.Reservation{ra, rb}, time.UTC)

	require.Len(t, reports, 1)
	assert.Equal(t, model.BookingID(10), reports[0].ManualBooking.ID)
	require.Len(t, reports[0].ChangedOriginals, 1)
	changed := reports[0].ChangedOriginals[0]
	assert.Equal(t, "b", changed.UID)
	assert.Equal(t, day(2025, 6, 8), changed.SnapshotEnd)
	assert.Equal(t, day(2025, 6, 9), changed.NewEnd)
	assert.Contains(t, reports[0].Reason, "1 original")
}

func TestDetectConflicts_UnchangedOrMissingOriginals(t *testing.T) {
	ra := res("a", "airbnb", "seaside", day(2025, 6, 1), day(2025, 6, 5))
	rb := res("b", "booking", "seaside", day(2025, 6, 5), day(2025, 6, 8))
	m := mergedFrom(10, stored(1, ra), stored(2, rb))

	assert.Empty(t, DetectConflicts([]model.Booking{m}, []model.Reservation{ra, rb}, time.UTC))
	assert.Empty(t, DetectConflicts([]model.Booking{m}, []model.Reservation{ra}, time.UTC), "absent originals are not judged")

	m.Status = model.StatusCancelled
	rb.End = day(2025, 6, 9)
	assert.Empty(t, DetectConflicts([]model.Booking{m}, []model.Reservation{ra, rb}, time.UTC), "resolved edits are not reported")
}

func TestBlockConflicts_FlagsOverlappedBlocks(t *testing.T) {
	upstreamB := stored(1, res("a", "airbnb", "seaside", day(2025, 6, 3), day(2025, 6, 6)))
	block := func(id model.BookingID, start, end time.Time) model.Booking {
		return model.Booking{
			ID: id, UID: "blk", Source: model.ManualSource, PropertyName: "seaside",
			Start: start, End: end, Status: model.StatusActive,
			IsManual: true, ManualType: model.ManualBlock,
		}
	}
	overlapped := block(10, day(2025, 6, 5), day(2025, 6, 7))
	touching := block(11, day(2025, 6, 6), day(2025, 6, 8))
	flagged := block(12, day(2025, 6, 4), day(2025, 6, 5))
	flagged.HasConflict = true

	ops := BlockConflicts([]model.Booking{upstreamB, overlapped, touching, flagged})

	require.Len(t, ops, 1)
	assert.Equal(t, model.BookingID(10), ops[0].ID)
	assert.True(t, *ops[0].HasConflict)
}
