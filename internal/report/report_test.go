package report

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staysync/internal/model"
	"staysync/internal/store"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	store *store.SQLStore
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, store.Options{
		Driver:      store.DriverSQLite,
		DSN:         filepath.Join(t.TempDir(), "staysync.db"),
		WaitTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.SyncProperties(ctx, []model.Property{
		{Name: "seaside", Group: "coast", CleaningCost: 100},
		{Name: "loft", Group: "city", CleaningCost: 60},
	}))

	return &fixture{
		store: s,
		svc: NewService(Options{
			Store:    s,
			Location: time.UTC,
			Now:      func() time.Time { return time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC) },
		}),
	}
}

func (fx *fixture) add(t *testing.T, uid, property string, start, end time.Time) model.Booking {
	t.Helper()
	ctx := context.Background()
	b := model.Booking{
		UID: uid, Source: "airbnb", PropertyName: property,
		Start: start, End: end, AllDay: true, Status: model.StatusActive,
	}
	_, err := fx.store.BulkUpsert(ctx, []store.UpsertOp{{Booking: b, ClearCancellation: true}})
	require.NoError(t, err)
	got, err := fx.store.FindByKeys(ctx, []model.Key{b.Key()})
	require.NoError(t, err)
	return got[b.Key()]
}

func uids(rows []model.Booking) []string {
	out := make([]string, 0, len(rows))
	for _, b := range rows {
		out = append(out, b.UID)
	}
	return out
}

func TestBookings_DefaultCheckoutWindow(t *testing.T) {
	fx := newFixture(t)
	fx.add(t, "past", "seaside", day(2025, 5, 20), day(2025, 6, 2))
	fx.add(t, "today", "seaside", day(2025, 5, 30), day(2025, 6, 3))
	fx.add(t, "soon", "loft", day(2025, 6, 4), day(2025, 6, 6))
	fx.add(t, "edge", "seaside", day(2025, 7, 1), day(2025, 7, 8))
	fx.add(t, "far", "seaside", day(2025, 7, 1), day(2025, 7, 9))

	page, err := fx.svc.Bookings(context.Background(), Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"today", "soon", "edge"}, uids(page.Rows))
	assert.Equal(t, 3, page.TotalCount)
	assert.False(t, page.HasMore)
}

func TestBookings_HidesSupersededOriginals(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a := fx.add(t, "a", "seaside", day(2025, 6, 1), day(2025, 6, 5))
	b := fx.add(t, "b", "seaside", day(2025, 6, 5), day(2025, 6, 8))

	m := &model.Booking{
		UID: "MANUAL-merged-1", Source: model.ManualSource, PropertyName: "seaside",
		Start: a.Start, End: b.End, AllDay: true, Status: model.StatusActive,
		IsManual: true, ManualType: model.ManualMerged, MergedFromIDs: []model.BookingID{a.ID, b.ID},
	}
	require.NoError(t, fx.store.Create(ctx, m))

	page, err := fx.svc.Bookings(ctx, Query{All: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"MANUAL-merged-1"}, uids(page.Rows))

	// A cancelled manual edit no longer hides anything.
	_, err = fx.store.BulkUpdate(ctx, []store.UpdateOp{{ID: m.ID, Status: store.StatusPtr(model.StatusCancelled)}})
	require.NoError(t, err)
	page, err = fx.svc.Bookings(ctx, Query{All: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, uids(page.Rows))

	page, err = fx.svc.Bookings(ctx, Query{All: true, IncludeCancelled: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "MANUAL-merged-1", "b"}, uids(page.Rows), "ties on checkout break by check-in")
}

func TestBookings_RangeGroupAndPaging(t *testing.T) {
	fx := newFixture(t)
	fx.add(t, "s1", "seaside", day(2025, 8, 1), day(2025, 8, 3))
	fx.add(t, "s2", "seaside", day(2025, 8, 3), day(2025, 8, 6))
	fx.add(t, "s3", "seaside", day(2025, 8, 6), day(2025, 8, 9))
	fx.add(t, "l1", "loft", day(2025, 8, 2), day(2025, 8, 4))
	ctx := context.Background()

	page, err := fx.svc.Bookings(ctx, Query{From: day(2025, 8, 3), To: day(2025, 8, 6)})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "l1", "s2"}, uids(page.Rows))

	page, err = fx.svc.Bookings(ctx, Query{From: day(2025, 8, 3), To: day(2025, 8, 6), Field: FieldStart})
	require.NoError(t, err)
	assert.Equal(t, []string{"s2", "s3"}, uids(page.Rows))

	page, err = fx.svc.Bookings(ctx, Query{All: true, Group: "coast", Limit: 2, Page: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, uids(page.Rows))
	assert.Equal(t, 3, page.TotalCount)
	assert.True(t, page.HasMore)

	page, err = fx.svc.Bookings(ctx, Query{All: true, Group: "coast", Limit: 2, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"s3"}, uids(page.Rows))
	assert.False(t, page.HasMore)

	page, err = fx.svc.Bookings(ctx, Query{All: true, Group: "nowhere"})
	require.NoError(t, err)
	assert.Empty(t, page.Rows)
}

func TestCleaning(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.add(t, "s1", "seaside", day(2025, 6, 1), day(2025, 6, 4))
	fx.add(t, "s2", "seaside", day(2025, 6, 4), day(2025, 6, 30))
	fx.add(t, "l1", "loft", day(2025, 6, 10), day(2025, 6, 12))
	fx.add(t, "next", "loft", day(2025, 6, 28), day(2025, 7, 2))
	require.NoError(t, fx.store.Create(ctx, &model.Booking{
		UID: "blk", Source: model.ManualSource, PropertyName: "seaside",
		Start: day(2025, 6, 10), End: day(2025, 6, 12), AllDay: true, Status: model.StatusActive,
		IsManual: true, ManualType: model.ManualBlock,
	}))

	got, err := fx.svc.CurrentMonth(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01", got.From)
	assert.Equal(t, "2025-06-30", got.To)
	assert.Equal(t, 3, got.BookingCount)
	assert.InDelta(t, 260, got.Total, 0.001)
	require.Len(t, got.Properties, 2)
	assert.Equal(t, PropertyCost{Name: "loft", Checkouts: 1, CleaningCost: 60, Cost: 60}, got.Properties[0])
	assert.Equal(t, PropertyCost{Name: "seaside", Checkouts: 2, CleaningCost: 100, Cost: 200}, got.Properties[1])

	next, err := fx.svc.NextMonth(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-07-01", next.From)
	assert.Equal(t, 1, next.BookingCount)
	assert.InDelta(t, 60, next.Total, 0.001)

	_, err = fx.svc.Cleaning(ctx, day(2025, 7, 1), day(2025, 6, 1))
	assert.ErrorIs(t, err, ErrBadRange)
}
