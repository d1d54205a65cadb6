package reconcile

import (
	"fmt"
	"sort"
	"time"

	"staysync/internal/model"
	"staysync/internal/store"
)

// DetectConflicts reports manual edits whose originals have since moved
// upstream. A snapshot entry is compared by calendar day against the fresh
// reservation with the same key; originals absent from this fetch are not
// judged. Reports are advisory and repeat on every sync until the manual
// booking is resolved or undone, since snapshots are never rewritten.
func DetectConflicts(manuals []model.Booking, fresh []model.Reservation, loc *time.Location) []model.ConflictReport {
	current := make(map[model.Key]model.Reservation, len(fresh))
	for _, r := range fresh {
		current[r.Key()] = r
	}

	reports := make([]model.ConflictReport, 0)
	for _, m := range manuals {
		if !m.IsManual || !m.Active() || len(m.SourceSnapshot) == 0 {
			continue
		}
		var changed []model.ChangedOriginal
		for _, snap := range m.SourceSnapshot {
			r, ok := current[model.Key{UID: snap.UID, Source: snap.Source}]
			if !ok {
				continue
			}
			if model.SameDay(snap.Start, r.Start, loc) && model.SameDay(snap.End, r.End, loc) {
				continue
			}
			changed = append(changed, model.ChangedOriginal{
				UID:           snap.UID,
				Source:        snap.Source,
				SnapshotStart: snap.Start,
				SnapshotEnd:   snap.End,
				NewStart:      r.Start,
				NewEnd:        r.End,
			})
		}
		if len(changed) == 0 {
			continue
		}
		reports = append(reports, model.ConflictReport{
			ManualBooking: model.ConflictBooking{
				ID:           m.ID,
				PropertyName: m.PropertyName,
				Start:        m.Start,
				End:          m.End,
				ManualType:   m.ManualType,
			},
			ChangedOriginals: changed,
			Reason:           fmt.Sprintf("%d original booking(s) changed dates upstream after the %s edit", len(changed), m.ManualType),
		})
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].ManualBooking.ID < reports[j].ManualBooking.ID
	})
	return reports
}

// BlockConflicts flags active blocks that an active upstream booking now
// overlaps (half-open). The flag is never cleared here; only an explicit
// resolve or an edit of the block clears it.
func BlockConflicts(bookings []model.Booking) []store.UpdateOp {
	upstream := make(map[string][]model.Booking)
	for _, b := range bookings {
		if !b.IsManual && b.Active() {
			upstream[b.PropertyName] = append(upstream[b.PropertyName], b)
		}
	}

	var ops []store.UpdateOp
	for _, blk := range bookings {
		if !blk.IsBlock() || !blk.Active() || blk.HasConflict {
			continue
		}
		for _, u := range upstream[blk.PropertyName] {
			if model.Overlaps(blk.Start, blk.End, u.Start, u.End) {
				ops = append(ops, store.UpdateOp{ID: blk.ID, HasConflict: store.BoolPtr(true)})
				break
			}
		}
	}
	return ops
}
