// Package reconcile merges fetched feed data into the booking store.
package reconcile

import (
	"staysync/internal/model"
	"staysync/internal/store"
)

// PlanInput is everything the planner needs; it performs no I/O.
type PlanInput struct {
	// Existing are the cancellation candidates: active upstream bookings
	// inside the sync window whose source was fetched successfully.
	Existing []model.Booking
	// Known holds the stored booking, if any, for every fresh key,
	// regardless of window or status.
	Known map[model.Key]model.Booking
	Fresh []model.Reservation
	// Hidden is the set of bookings superseded by an active manual edit.
	Hidden map[model.BookingID]struct{}
}

// Changes is the write set of one reconciliation pass.
type Changes struct {
	Upserts   []store.UpsertOp
	Cancels   []store.UpdateOp
	Inserted  int
	Updated   int
	Unchanged int
}

// Plan diffs fresh reservations against stored bookings. Only inserts and
// rows whose effective fields change are emitted, so running it twice over
// the same feed produces no writes the second time.
func Plan(in PlanInput) Changes {
	var out Changes

	pending := make(map[model.Key]model.Booking, len(in.Existing))
	for _, b := range in.Existing {
		if b.IsManual || !b.Active() {
			continue
		}
		pending[b.Key()] = b
	}

	for _, r := range dedupe(in.Fresh) {
		key := r.Key()
		delete(pending, key)

		next := model.NewBookingFromReservation(r)
		prev, known := in.Known[key]
		if !known {
			out.Upserts = append(out.Upserts, store.UpsertOp{Booking: next, ClearCancellation: true})
			out.Inserted++
			continue
		}
		if prev.IsManual {
			// Feed sources never use the manual source identity.
			out.Unchanged++
			continue
		}

		_, hidden := in.Hidden[prev.ID]
		reactivate := !hidden && !prev.Active()
		if !reactivate && !fieldsDiffer(prev, next) {
			out.Unchanged++
			continue
		}

		next.Guests = prev.Guests
		next.Notes = prev.Notes
		out.Upserts = append(out.Upserts, store.UpsertOp{Booking: next, ClearCancellation: !hidden})
		out.Updated++
	}

	for _, b := range in.Existing {
		if _, ok := pending[b.Key()]; !ok {
			continue
		}
		delete(pending, b.Key())
		out.Cancels = append(out.Cancels, store.UpdateOp{
			ID:     b.ID,
			Status: store.StatusPtr(model.StatusCancelled),
		})
	}
	return out
}

// dedupe keeps the last reservation per key, in first-seen order.
func dedupe(in []model.Reservation) []model.Reservation {
	index := make(map[model.Key]int, len(in))
	out := make([]model.Reservation, 0, len(in))
	for _, r := range in {
		if i, ok := index[r.Key()]; ok {
			out[i] = r
			continue
		}
		index[r.Key()] = len(out)
		out = append(out, r)
	}
	return out
}

// fieldsDiffer compares the fields a feed is authoritative for. Instants are
// compared at second precision, the resolution the store keeps.
func fieldsDiffer(prev, next model.Booking) bool {
	return prev.PropertyName != next.PropertyName ||
		prev.Start.Unix() != next.Start.Unix() ||
		prev.End.Unix() != next.End.Unix() ||
		prev.AllDay != next.AllDay ||
		prev.Summary != next.Summary ||
		prev.Description != next.Description ||
		prev.Location != next.Location
}
