// Package manual implements operator overrides of upstream bookings: merge,
// split, date blocks, their undo, and the guest/notes annotations.
//
// Every write runs under a per-property lock and re-reads its inputs once the
// lock is held, so two racing edits of the same original cannot both win.
package manual

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"staysync/internal/lock"
	appLog "staysync/internal/log"
	"staysync/internal/model"
	"staysync/internal/store"
)

// MaxGuests bounds the guest annotation.
const MaxGuests = 20

type Options struct {
	Store    store.Store
	Locker   lock.Locker
	Location *time.Location
}

type Service struct {
	store  store.Store
	locker lock.Locker
	loc    *time.Location
}

func NewService(opts Options) *Service {
	if opts.Locker == nil {
		opts.Locker = lock.NewMemory()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{store: opts.Store, locker: opts.Locker, loc: opts.Location}
}

func lockKey(property string) string {
	return "property:" + property
}

// withProperty runs fn while holding the property's edit lock.
func (s *Service) withProperty(ctx context.Context, property string, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, lockKey(property))
	if err != nil {
		return fmt.Errorf("lock %s: %w", property, err)
	}
	defer unlock()
	return fn()
}

func (s *Service) load(ctx context.Context, id model.BookingID) (model.Booking, error) {
	b, err := s.store.FindByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Booking{}, ErrNotFound
	}
	return b, err
}

// hiddenIDs returns the originals superseded by active manual edits of the
// property.
func (s *Service) hiddenIDs(ctx context.Context, property string) (map[model.BookingID]struct{}, error) {
	manuals, err := s.store.FindBookings(ctx, store.Filter{
		PropertyNames: []string{property},
		Manual:        store.ManualOnly,
	})
	if err != nil {
		return nil, err
	}
	return model.HiddenIDs(manuals), nil
}

// editable checks the preconditions shared by merge and split.
func editable(b model.Booking, hidden map[model.BookingID]struct{}) error {
	if b.IsManual {
		return invalid("booking %d is a manual booking; undo it instead", b.ID)
	}
	if !b.Active() {
		return invalid("booking %d is cancelled", b.ID)
	}
	if _, ok := hidden[b.ID]; ok {
		return ErrSuperseded
	}
	return nil
}

func manualUID(kind model.ManualType) string {
	return "MANUAL-" + string(kind) + "-" + uuid.NewString()
}

func joinNonEmpty(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " | ")
}

// Merge replaces two day-adjacent upstream bookings of one property with a
// single manual booking. The originals stay untouched and become hidden.
func (s *Service) Merge(ctx context.Context, idA, idB model.BookingID) (model.Booking, error) {
	if idA == idB {
		return model.Booking{}, invalid("cannot merge a booking with itself")
	}
	a, err := s.load(ctx, idA)
	if err != nil {
		return model.Booking{}, err
	}
	b, err := s.load(ctx, idB)
	if err != nil {
		return model.Booking{}, err
	}
	if a.PropertyName != b.PropertyName {
		return model.Booking{}, invalid("bookings belong to different properties")
	}

	var merged model.Booking
	err = s.withProperty(ctx, a.PropertyName, func() error {
		if a, err = s.load(ctx, idA); err != nil {
			return err
		}
		if b, err = s.load(ctx, idB); err != nil {
			return err
		}
		hidden, err := s.hiddenIDs(ctx, a.PropertyName)
		if err != nil {
			return err
		}
		for _, x := range []model.Booking{a, b} {
			if err := editable(x, hidden); err != nil {
				return err
			}
		}

		first, second := a, b
		if second.End.Before(first.End) || (second.End.Equal(first.End) && second.Start.Before(first.Start)) {
			first, second = second, first
		}
		if !model.SameDay(first.End, second.Start, s.loc) {
			return invalid("bookings are not adjacent: first ends %s, second starts %s",
				model.DayOf(first.End, s.loc), model.DayOf(second.Start, s.loc))
		}

		guests := first.Guests
		if guests == nil {
			guests = second.Guests
		}
		location := first.Location
		if location == "" {
			location = second.Location
		}
		merged = model.Booking{
			UID:            manualUID(model.ManualMerged),
			Source:         model.ManualSource,
			PropertyName:   first.PropertyName,
			Start:          first.Start,
			End:            second.End,
			AllDay:         first.AllDay && second.AllDay,
			Summary:        first.Summary,
			Description:    joinNonEmpty(first.Description, second.Description),
			Location:       location,
			Guests:         guests,
			Notes:          joinNonEmpty(first.Notes, second.Notes),
			Status:         model.StatusActive,
			IsManual:       true,
			ManualType:     model.ManualMerged,
			MergedFromIDs:  []model.BookingID{first.ID, second.ID},
			SourceSnapshot: []model.SnapshotEntry{first.Snapshot(), second.Snapshot()},
		}
		return s.store.Create(ctx, &merged)
	})
	if err != nil {
		return model.Booking{}, err
	}
	appLog.Info("manual merge", "id", merged.ID, "property", merged.PropertyName, "from", merged.MergedFromIDs)
	return merged, nil
}

// Split replaces an upstream booking with two manual halves meeting at UTC
// midnight of splitDay, which must fall strictly inside the stay.
func (s *Service) Split(ctx context.Context, id model.BookingID, splitDay time.Time) ([]model.Booking, error) {
	orig, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	at := model.DayStart(splitDay, time.UTC)
	day := model.DayOf(at, time.UTC)

	var parts []model.Booking
	err = s.withProperty(ctx, orig.PropertyName, func() error {
		if orig, err = s.load(ctx, id); err != nil {
			return err
		}
		hidden, err := s.hiddenIDs(ctx, orig.PropertyName)
		if err != nil {
			return err
		}
		if err := editable(orig, hidden); err != nil {
			return err
		}
		startDay, endDay := model.DayOf(orig.Start, s.loc), model.DayOf(orig.End, s.loc)
		if day <= startDay || day >= endDay || !at.After(orig.Start) || !at.Before(orig.End) {
			return invalid("split date %s must fall after %s and before %s", day, startDay, endDay)
		}

		base := manualUID(model.ManualSplit)
		half := func(suffix string, start, end time.Time) model.Booking {
			splitFrom := orig.ID
			return model.Booking{
				UID:            base + "-" + suffix,
				Source:         model.ManualSource,
				PropertyName:   orig.PropertyName,
				Start:          start,
				End:            end,
				AllDay:         orig.AllDay,
				Summary:        orig.Summary,
				Description:    orig.Description,
				Location:       orig.Location,
				Guests:         orig.Guests,
				Notes:          orig.Notes,
				Status:         model.StatusActive,
				IsManual:       true,
				ManualType:     model.ManualSplit,
				SplitFromID:    &splitFrom,
				SourceSnapshot: []model.SnapshotEntry{orig.Snapshot()},
			}
		}
		first := half("A", orig.Start, at)
		second := half("B", at, orig.End)
		if err := s.store.Create(ctx, &first); err != nil {
			return err
		}
		if err := s.store.Create(ctx, &second); err != nil {
			if derr := s.store.DeleteByID(ctx, first.ID); derr != nil {
				appLog.Error("manual split rollback failed", derr, "id", first.ID)
			}
			return err
		}
		parts = []model.Booking{first, second}
		return nil
	})
	if err != nil {
		return nil, err
	}
	appLog.Info("manual split", "original", id, "property", orig.PropertyName, "day", day)
	return parts, nil
}

// UndoMerge deletes a merged booking, making its originals visible again.
func (s *Service) UndoMerge(ctx context.Context, id model.BookingID) error {
	m, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !m.IsManual || m.ManualType != model.ManualMerged {
		return ErrNotFound
	}
	return s.withProperty(ctx, m.PropertyName, func() error {
		err := s.store.DeleteByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		if err == nil {
			appLog.Info("manual undo merge", "id", id, "property", m.PropertyName)
		}
		return err
	})
}

// UndoSplit deletes every part of the split the given part belongs to.
func (s *Service) UndoSplit(ctx context.Context, partID model.BookingID) (int, error) {
	p, err := s.load(ctx, partID)
	if err != nil {
		return 0, err
	}
	if !p.IsManual || p.ManualType != model.ManualSplit || p.SplitFromID == nil {
		return 0, ErrNotFound
	}
	var n int
	err = s.withProperty(ctx, p.PropertyName, func() error {
		n, err = s.store.DeleteSplitParts(ctx, *p.SplitFromID)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	appLog.Info("manual undo split", "original", *p.SplitFromID, "parts", n)
	return n, nil
}

type Decision string

const (
	Keep   Decision = "keep"
	Remove Decision = "remove"
)

// ResolveConflict settles a conflict report. Keep changes nothing and the
// report repeats on later syncs. Remove cancels the manual edit (every part
// of a split) so its originals surface again.
func (s *Service) ResolveConflict(ctx context.Context, id model.BookingID, d Decision) error {
	if d != Keep && d != Remove {
		return invalid("decision must be %q or %q", Keep, Remove)
	}
	m, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !m.IsManual || m.IsBlock() {
		return ErrNotFound
	}
	if d == Keep {
		return nil
	}

	return s.withProperty(ctx, m.PropertyName, func() error {
		ids := []model.BookingID{m.ID}
		if m.ManualType == model.ManualSplit && m.SplitFromID != nil {
			siblings, err := s.store.FindBookings(ctx, store.Filter{
				PropertyNames: []string{m.PropertyName},
				Manual:        store.ManualOnly,
				ManualType:    model.ManualSplit,
				ExcludeID:     m.ID,
			})
			if err != nil {
				return err
			}
			for _, sib := range siblings {
				if sib.SplitFromID != nil && *sib.SplitFromID == *m.SplitFromID {
					ids = append(ids, sib.ID)
				}
			}
		}
		ops := make([]store.UpdateOp, 0, len(ids))
		for _, cid := range ids {
			ops = append(ops, store.UpdateOp{ID: cid, Status: store.StatusPtr(model.StatusCancelled)})
		}
		if _, err := s.store.BulkUpdate(ctx, ops); err != nil {
			return err
		}
		appLog.Info("manual conflict resolved", "id", id, "decision", d, "cancelled", len(ids))
		return nil
	})
}

// SetGuests stores the guest count annotation; nil clears it.
func (s *Service) SetGuests(ctx context.Context, id model.BookingID, guests *int) (model.Booking, error) {
	if guests != nil && (*guests < 0 || *guests > MaxGuests) {
		return model.Booking{}, invalid("guests must be between 0 and %d", MaxGuests)
	}
	if _, err := s.load(ctx, id); err != nil {
		return model.Booking{}, err
	}
	op := store.UpdateOp{ID: id, Guests: guests, ClearGuests: guests == nil}
	if _, err := s.store.BulkUpdate(ctx, []store.UpdateOp{op}); err != nil {
		return model.Booking{}, err
	}
	return s.load(ctx, id)
}

// SetNotes stores the free-text annotation. An empty string clears it.
func (s *Service) SetNotes(ctx context.Context, id model.BookingID, notes string) (model.Booking, error) {
	if _, err := s.load(ctx, id); err != nil {
		return model.Booking{}, err
	}
	if _, err := s.store.BulkUpdate(ctx, []store.UpdateOp{{ID: id, Notes: store.StringPtr(notes)}}); err != nil {
		return model.Booking{}, err
	}
	return s.load(ctx, id)
}
