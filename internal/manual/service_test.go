package manual

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staysync/internal/lock"
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
	require.NoError(t, s.SyncProperties(ctx, []model.Property{{Name: "seaside"}, {Name: "loft"}}))

	return &fixture{
		store: s,
		svc:   NewService(Options{Store: s, Locker: lock.NewMemory(), Location: time.UTC}),
	}
}

// upstream inserts an iCal-sourced booking and returns it with its ID.
func (fx *fixture) upstream(t *testing.T, uid, property string, start, end time.Time) model.Booking {
	t.Helper()
	ctx := context.Background()
	b := model.Booking{
		UID: uid, Source: "airbnb", PropertyName: property,
		Start: start, End: end, AllDay: true, Summary: "Reserved", Status: model.StatusActive,
	}
	_, err := fx.store.BulkUpsert(ctx, []store.UpsertOp{{Booking: b, ClearCancellation: true}})
	require.NoError(t, err)
	got, err := fx.store.FindByKeys(ctx, []model.Key{b.Key()})
	require.NoError(t, err)
	return got[b.Key()]
}

func visible(t *testing.T, s store.Store) []model.Booking {
	t.Helper()
	all, err := s.FindBookings(context.Background(), store.Filter{})
	require.NoError(t, err)
	hidden := model.HiddenIDs(all)
	var out []model.Booking
	for _, b := range all {
		if _, ok := hidden[b.ID]; !ok {
			out = append(out, b)
		}
	}
	return out
}

func TestMerge_AdjacentBookings(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a := fx.upstream(t, "a", "seaside", day(2025, 6, 1), day(2025, 6, 10))
	b := fx.upstream(t, "b", "seaside", day(2025, 6, 10), day(2025, 6, 14))
	_, err := fx.store.BulkUpdate(ctx, []store.UpdateOp{
		{ID: a.ID, Notes: store.StringPtr("first")},
		{ID: b.ID, Guests: store.IntPtr(3), Notes: store.StringPtr("second")},
	})
	require.NoError(t, err)

	// Argument order does not matter.
	m, err := fx.svc.Merge(ctx, b.ID, a.ID)
	require.NoError(t, err)

	assert.True(t, m.IsManual)
	assert.Equal(t, model.ManualMerged, m.ManualType)
	assert.Equal(t, model.ManualSource, m.Source)
	assert.Equal(t, day(2025, 6, 1), m.Start)
	assert.Equal(t, day(2025, 6, 14), m.End)
	assert.Equal(t, []model.BookingID{a.ID, b.ID}, m.MergedFromIDs)
	assert.Equal(t, "first | second", m.Notes)
	require.NotNil(t, m.Guests)
	assert.Equal(t, 3, *m.Guests)
	require.Len(t, m.SourceSnapshot, 2)

	origA, err := fx.store.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, origA.Status, "originals are hidden, never cancelled")

	shown := visible(t, fx.store)
	require.Len(t, shown, 1)
	assert.Equal(t, m.ID, shown[0].ID)
}

func TestMerge_Rejections(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a := fx.upstream(t, "a", "seaside", day(2025, 6, 1), day(2025, 6, 10))
	gap := fx.upstream(t, "gap", "seaside", day(2025, 6, 11), day(2025, 6, 14))
	other := fx.upstream(t, "other", "loft", day(2025, 6, 10), day(2025, 6, 12))

	var verr *ValidationError
	_, err := fx.svc.Merge(ctx, a.ID, gap.ID)
	assert.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "not adjacent")

	_, err = fx.svc.Merge(ctx, a.ID, other.ID)
	assert.ErrorAs(t, err, &verr)

	_, err = fx.svc.Merge(ctx, a.ID, a.ID)
	assert.ErrorAs(t, err, &verr)

	_, err = fx.svc.Merge(ctx, a.ID, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMerge_SecondEditOfSameOriginalIsRejected(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a := fx.upstream(t, "a", "seaside", day(2025, 6, 1), day(2025, 6, 5))
	b := fx.upstream(t, "b", "seaside", day(2025, 6, 5), day(2025, 6, 8))
	c := fx.upstream(t, "c", "seaside", day(2025, 6, 8), day(2025, 6, 10))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, pair := range [][2]model.BookingID{{a.ID, b.ID}, {b.ID, c.ID}} {
		i, pair := i, pair
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = fx.svc.Merge(ctx, pair[0], pair[1])
		}()
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrSuperseded)
			failures++
		}
	}
	assert.Equal(t, 1, failures, "exactly one of two racing edits of b wins")

	_, err := fx.svc.Split(ctx, b.ID, day(2025, 6, 6))
	assert.ErrorIs(t, err, ErrSuperseded)
}

func TestUndoMerge_RestoresOriginals(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a := fx.upstream(t, "a", "seaside", day(2025, 6, 1), day(2025, 6, 5))
	b := fx.upstream(t, "b", "seaside", day(2025, 6, 5), day(2025, 6, 8))

	m, err := fx.svc.Merge(ctx, a.ID, b.ID)
	require.NoError(t, err)
	require.NoError(t, fx.svc.UndoMerge(ctx, m.ID))

	shown := visible(t, fx.store)
	require.Len(t, shown, 2)
	assert.Equal(t, a.ID, shown[0].ID)
	assert.Equal(t, b.ID, shown[1].ID)

	assert.ErrorIs(t, fx.svc.UndoMerge(ctx, m.ID), ErrNotFound)
	assert.ErrorIs(t, fx.svc.UndoMerge(ctx, a.ID), ErrNotFound, "only merged bookings can be unmerged")
}

func TestSplit_PartitionsTheStay(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	orig := fx.upstream(t, "a", "seaside", day(2025, 6, 1), day(2025, 6, 10))

	parts, err := fx.svc.Split(ctx, orig.ID, day(2025, 6, 4))
	require.NoError(t, err)
	require.Len(t, parts, 2)

	assert.Equal(t, orig.Start, parts[0].Start)
	assert.Equal(t, day(2025, 6, 4), parts[0].End)
	assert.Equal(t, parts[0].End, parts[1].Start, "no gap and no overlap")
	assert.Equal(t, orig.End, parts[1].End)
	for _, p := range parts {
		require.NotNil(t, p.SplitFromID)
		assert.Equal(t, orig.ID, *p.SplitFromID)
		assert.Equal(t, model.ManualSplit, p.ManualType)
	}
	assert.Len(t, visible(t, fx.store), 2)

	n, err := fx.svc.UndoSplit(ctx, parts[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	shown := visible(t, fx.store)
	require.Len(t, shown, 1)
	assert.Equal(t, orig.ID, shown[0].ID)
}

func TestSplit_DateMustBeStrictlyInside(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	orig := fx.upstream(t, "a", "seaside", day(2025, 6, 1), day(2025, 6, 10))

	var verr *ValidationError
	for _, d := range []time.Time{day(2025, 6, 1), day(2025, 6, 10), day(2025, 5, 30), day(2025, 6, 12)} {
		_, err := fx.svc.Split(ctx, orig.ID, d)
		assert.ErrorAs(t, err, &verr, d.Format(model.DayLayout))
	}
	assert.Len(t, visible(t, fx.store), 1, "rejections write nothing")
}

func TestResolveConflict(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	orig := fx.upstream(t, "a", "seaside", day(2025, 6, 1), day(2025, 6, 10))
	parts, err := fx.svc.Split(ctx, orig.ID, day(2025, 6, 4))
	require.NoError(t, err)

	var verr *ValidationError
	assert.ErrorAs(t, fx.svc.ResolveConflict(ctx, parts[0].ID, "maybe"), &verr)

	require.NoError(t, fx.svc.ResolveConflict(ctx, parts[0].ID, Keep))
	assert.Len(t, visible(t, fx.store), 2)

	require.NoError(t, fx.svc.ResolveConflict(ctx, parts[0].ID, Remove))
	shown := visible(t, fx.store)
	require.Len(t, shown, 1)
	assert.Equal(t, orig.ID, shown[0].ID)

	assert.ErrorIs(t, fx.svc.ResolveConflict(ctx, orig.ID, Remove), ErrNotFound)
}

func TestAnnotations(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	b := fx.upstream(t, "a", "seaside", day(2025, 6, 1), day(2025, 6, 10))

	got, err := fx.svc.SetGuests(ctx, b.ID, store.IntPtr(4))
	require.NoError(t, err)
	require.NotNil(t, got.Guests)
	assert.Equal(t, 4, *got.Guests)

	var verr *ValidationError
	_, err = fx.svc.SetGuests(ctx, b.ID, store.IntPtr(21))
	assert.ErrorAs(t, err, &verr)
	_, err = fx.svc.SetGuests(ctx, b.ID, store.IntPtr(-1))
	assert.ErrorAs(t, err, &verr)

	got, err = fx.svc.SetGuests(ctx, b.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, got.Guests)

	got, err = fx.svc.SetNotes(ctx, b.ID, "cot in bedroom")
	require.NoError(t, err)
	assert.Equal(t, "cot in bedroom", got.Notes)

	got, err = fx.svc.SetNotes(ctx, b.ID, "")
	require.NoError(t, err)
	assert.Empty(t, got.Notes)

	_, err = fx.svc.SetNotes(ctx, 9999, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}
