package manual

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staysync/internal/model"
	"staysync/internal/store"
)

func TestCreateBlock(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	blk, err := fx.svc.CreateBlock(ctx, Block{PropertyName: "seaside", Start: day(2025, 7, 1), End: day(2025, 7, 4), Reason: "painting"})
	require.NoError(t, err)
	assert.True(t, blk.IsBlock())
	assert.True(t, blk.AllDay)
	assert.Equal(t, "painting", blk.BlockReason)
	assert.Equal(t, model.ManualSource, blk.Source)
	assert.NotEmpty(t, blk.UID)

	var verr *ValidationError
	_, err = fx.svc.CreateBlock(ctx, Block{PropertyName: "seaside", Start: day(2025, 7, 4), End: day(2025, 7, 4)})
	assert.ErrorAs(t, err, &verr)
	_, err = fx.svc.CreateBlock(ctx, Block{PropertyName: "nowhere", Start: day(2025, 7, 1), End: day(2025, 7, 2)})
	assert.ErrorAs(t, err, &verr)
}

func TestCreateBlock_OverlapRules(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	existing, err := fx.svc.CreateBlock(ctx, Block{PropertyName: "seaside", Start: day(2025, 7, 1), End: day(2025, 7, 4)})
	require.NoError(t, err)
	booked := fx.upstream(t, "r1", "seaside", day(2025, 7, 10), day(2025, 7, 12))

	var oerr *OverlapError
	_, err = fx.svc.CreateBlock(ctx, Block{PropertyName: "seaside", Start: day(2025, 7, 3), End: day(2025, 7, 5)})
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, OverlapBlock, oerr.Type)
	require.Len(t, oerr.Conflicts, 1)
	assert.Equal(t, existing.ID, oerr.Conflicts[0].ID)

	_, err = fx.svc.CreateBlock(ctx, Block{PropertyName: "seaside", Start: day(2025, 7, 11), End: day(2025, 7, 13)})
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, OverlapICal, oerr.Type)
	assert.Equal(t, booked.ID, oerr.Conflicts[0].ID)
	assert.Equal(t, "airbnb", oerr.Conflicts[0].Source)

	// Block overlap is reported before iCal overlap.
	_, err = fx.svc.CreateBlock(ctx, Block{PropertyName: "seaside", Start: day(2025, 7, 2), End: day(2025, 7, 11)})
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, OverlapBlock, oerr.Type)

	// Touching intervals are a same-day turnover, not an overlap.
	_, err = fx.svc.CreateBlock(ctx, Block{PropertyName: "seaside", Start: day(2025, 7, 4), End: day(2025, 7, 10)})
	assert.NoError(t, err)

	_, err = fx.svc.CreateBlock(ctx, Block{PropertyName: "loft", Start: day(2025, 7, 1), End: day(2025, 7, 4)})
	assert.NoError(t, err, "other properties are independent")
}

func TestUpdateBlock(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	blk, err := fx.svc.CreateBlock(ctx, Block{PropertyName: "seaside", Start: day(2025, 7, 1), End: day(2025, 7, 4), Reason: "painting"})
	require.NoError(t, err)
	_, err = fx.store.BulkUpdate(ctx, []store.UpdateOp{{ID: blk.ID, HasConflict: store.BoolPtr(true)}})
	require.NoError(t, err)

	got, err := fx.svc.UpdateBlock(ctx, blk.ID, day(2025, 7, 2), day(2025, 7, 6), nil)
	require.NoError(t, err)
	assert.Equal(t, day(2025, 7, 2), got.Start)
	assert.Equal(t, day(2025, 7, 6), got.End)
	assert.Equal(t, "painting", got.BlockReason)
	assert.False(t, got.HasConflict)

	reason := "floors"
	got, err = fx.svc.UpdateBlock(ctx, blk.ID, day(2025, 7, 1), day(2025, 7, 3), &reason)
	require.NoError(t, err)
	assert.Equal(t, "floors", got.BlockReason)

	fx.upstream(t, "r1", "seaside", day(2025, 7, 10), day(2025, 7, 12))
	var oerr *OverlapError
	_, err = fx.svc.UpdateBlock(ctx, blk.ID, day(2025, 7, 1), day(2025, 7, 11), nil)
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, OverlapICal, oerr.Type)

	b := fx.upstream(t, "r2", "seaside", day(2025, 8, 1), day(2025, 8, 3))
	_, err = fx.svc.UpdateBlock(ctx, b.ID, day(2025, 8, 1), day(2025, 8, 2), nil)
	assert.ErrorIs(t, err, ErrNotFound, "only blocks can be edited as blocks")
}

func TestDeleteAndResolveBlock(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	blk, err := fx.svc.CreateBlock(ctx, Block{PropertyName: "seaside", Start: day(2025, 7, 1), End: day(2025, 7, 4)})
	require.NoError(t, err)
	_, err = fx.store.BulkUpdate(ctx, []store.UpdateOp{{ID: blk.ID, HasConflict: store.BoolPtr(true)}})
	require.NoError(t, err)

	got, err := fx.svc.ResolveBlockConflict(ctx, blk.ID)
	require.NoError(t, err)
	assert.False(t, got.HasConflict)

	require.NoError(t, fx.svc.DeleteBlock(ctx, blk.ID))
	assert.ErrorIs(t, fx.svc.DeleteBlock(ctx, blk.ID), ErrNotFound)

	b := fx.upstream(t, "r1", "seaside", day(2025, 7, 10), day(2025, 7, 12))
	assert.ErrorIs(t, fx.svc.DeleteBlock(ctx, b.ID), ErrNotFound)
	_, err = fx.svc.ResolveBlockConflict(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
