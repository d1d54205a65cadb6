package manual

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	appLog "staysync/internal/log"
	"staysync/internal/model"
	"staysync/internal/store"
)

// BlockSummary is the display text stored on blocks.
const BlockSummary = "Blocked"

// Block describes the dates an operator takes off the market. End is
// exclusive, so a block ending on a day leaves that day free for check-in.
type Block struct {
	PropertyName string
	Start        time.Time
	End          time.Time
	Reason       string
}

func (b Block) validate() error {
	if b.Start.IsZero() || b.End.IsZero() {
		return invalid("block start and end are required")
	}
	if !b.End.After(b.Start) {
		return invalid("block end must be after start")
	}
	return nil
}

// checkOverlap rejects a block colliding with another block first, then
// with any active upstream booking. Both tests are half-open.
func (s *Service) checkOverlap(ctx context.Context, b Block, exclude model.BookingID) error {
	candidates, err := s.store.FindBookings(ctx, store.Filter{
		PropertyNames: []string{b.PropertyName},
		From:          b.Start,
		To:            b.End,
		ExcludeID:     exclude,
	})
	if err != nil {
		return err
	}

	var blocks, upstream []model.Booking
	for _, c := range candidates {
		if !model.Overlaps(b.Start, b.End, c.Start, c.End) {
			continue
		}
		switch {
		case c.IsBlock():
			blocks = append(blocks, c)
		case !c.IsManual:
			upstream = append(upstream, c)
		}
	}
	if len(blocks) > 0 {
		return overlapError(OverlapBlock, blocks)
	}
	if len(upstream) > 0 {
		return overlapError(OverlapICal, upstream)
	}
	return nil
}

func (s *Service) CreateBlock(ctx context.Context, b Block) (model.Booking, error) {
	if err := b.validate(); err != nil {
		return model.Booking{}, err
	}
	if _, err := s.store.PropertyByName(ctx, b.PropertyName); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Booking{}, invalid("unknown property %q", b.PropertyName)
		}
		return model.Booking{}, err
	}

	var created model.Booking
	err := s.withProperty(ctx, b.PropertyName, func() error {
		if err := s.checkOverlap(ctx, b, 0); err != nil {
			return err
		}
		created = model.Booking{
			UID:          uuid.NewString(),
			Source:       model.ManualSource,
			PropertyName: b.PropertyName,
			Start:        b.Start,
			End:          b.End,
			AllDay:       model.IsDateValue(b.Start) && model.IsDateValue(b.End),
			Summary:      BlockSummary,
			Status:       model.StatusActive,
			IsManual:     true,
			ManualType:   model.ManualBlock,
			BlockReason:  b.Reason,
		}
		return s.store.Create(ctx, &created)
	})
	if err != nil {
		return model.Booking{}, err
	}
	appLog.Info("block created", "id", created.ID, "property", created.PropertyName,
		"start", model.DayOf(created.Start, s.loc), "end", model.DayOf(created.End, s.loc))
	return created, nil
}

func (s *Service) loadBlock(ctx context.Context, id model.BookingID) (model.Booking, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return model.Booking{}, err
	}
	if !b.IsBlock() {
		return model.Booking{}, ErrNotFound
	}
	return b, nil
}

// UpdateBlock moves a block and optionally rewrites its reason. A nil reason
// keeps the current one. The conflict flag is cleared since the operator
// has just looked at the dates.
func (s *Service) UpdateBlock(ctx context.Context, id model.BookingID, start, end time.Time, reason *string) (model.Booking, error) {
	current, err := s.loadBlock(ctx, id)
	if err != nil {
		return model.Booking{}, err
	}
	next := Block{PropertyName: current.PropertyName, Start: start, End: end, Reason: current.BlockReason}
	if reason != nil {
		next.Reason = *reason
	}
	if err := next.validate(); err != nil {
		return model.Booking{}, err
	}

	err = s.withProperty(ctx, current.PropertyName, func() error {
		if _, err := s.loadBlock(ctx, id); err != nil {
			return err
		}
		if err := s.checkOverlap(ctx, next, id); err != nil {
			return err
		}
		_, err := s.store.BulkUpdate(ctx, []store.UpdateOp{{
			ID:          id,
			Start:       store.TimePtr(next.Start),
			End:         store.TimePtr(next.End),
			BlockReason: store.StringPtr(next.Reason),
			HasConflict: store.BoolPtr(false),
		}})
		return err
	})
	if err != nil {
		return model.Booking{}, err
	}
	appLog.Info("block updated", "id", id, "property", current.PropertyName)
	return s.load(ctx, id)
}

func (s *Service) DeleteBlock(ctx context.Context, id model.BookingID) error {
	b, err := s.loadBlock(ctx, id)
	if err != nil {
		return err
	}
	return s.withProperty(ctx, b.PropertyName, func() error {
		err := s.store.DeleteByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		if err == nil {
			appLog.Info("block deleted", "id", id, "property", b.PropertyName)
		}
		return err
	})
}

// ResolveBlockConflict acknowledges an upstream booking overlapping the
// block by clearing its conflict flag. The block itself stays.
func (s *Service) ResolveBlockConflict(ctx context.Context, id model.BookingID) (model.Booking, error) {
	if _, err := s.loadBlock(ctx, id); err != nil {
		return model.Booking{}, err
	}
	if _, err := s.store.BulkUpdate(ctx, []store.UpdateOp{{ID: id, HasConflict: store.BoolPtr(false)}}); err != nil {
		return model.Booking{}, err
	}
	return s.load(ctx, id)
}
