package reconcile

import (
	"time"

	"staysync/internal/model"
	"staysync/internal/store"
)

// Changeovers recomputes urgent-changeover flags over the active booking set.
//
// Within one property, booking A is flagged when some other booking checks
// in on the calendar day A checks out. Hidden originals and blocks take no
// part: a guest only turns over against what is actually shown. Ops are
// emitted only where the stored flag differs.
func Changeovers(active []model.Booking, hidden map[model.BookingID]struct{}, loc *time.Location) []store.UpdateOp {
	participates := func(b model.Booking) bool {
		if !b.Active() || b.IsBlock() {
			return false
		}
		_, isHidden := hidden[b.ID]
		return !isHidden
	}

	// property -> check-in day -> booking ids starting that day
	checkIns := make(map[string]map[string][]model.BookingID)
	for _, b := range active {
		if !participates(b) {
			continue
		}
		days, ok := checkIns[b.PropertyName]
		if !ok {
			days = make(map[string][]model.BookingID)
			checkIns[b.PropertyName] = days
		}
		d := model.DayOf(b.Start, loc)
		days[d] = append(days[d], b.ID)
	}

	var ops []store.UpdateOp
	for _, b := range active {
		want := false
		if participates(b) {
			for _, id := range checkIns[b.PropertyName][model.DayOf(b.End, loc)] {
				if id != b.ID {
					want = true
					break
				}
			}
		}
		if want != b.IsUrgentChangeover {
			ops = append(ops, store.UpdateOp{ID: b.ID, IsUrgentChangeover: store.BoolPtr(want)})
		}
	}
	return ops
}
