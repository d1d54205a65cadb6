package ics

import (
	"time"

	"github.com/teambition/rrule-go"

	appLog "staysync/internal/log"
	"staysync/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// expandRecurring turns a recurring VEVENT (owner blocks on some platforms
// repeat weekly) into one reservation per occurrence between the event's
// DTSTART and opts.ExpandUntil. Each occurrence gets its own uid so it
// reconciles independently. The second return reports whether the cap was
// hit.
func expandRecurring(ev parsedEvent, opts ParseOptions) ([]model.Reservation, bool) {
	base := ev.res

	r, err := rrule.StrToRRule(ev.rrule)
	if err != nil {
		appLog.Error("ics: failed to parse RRULE", err, "uid", base.UID, "rrule", ev.rrule)
		// Keep the first instance rather than losing the event.
		return []model.Reservation{base}, false
	}
	r.DTStart(base.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.exDates {
		set.ExDate(ex.In(base.Start.Location()))
	}

	starts := set.Between(base.Start, opts.ExpandUntil.In(base.Start.Location()), true)
	hitCap := false
	if len(starts) > opts.MaxOccurrencesPerEvent {
		starts = starts[:opts.MaxOccurrencesPerEvent]
		hitCap = true
	}

	dur := base.End.Sub(base.Start)
	out := make([]model.Reservation, 0, len(starts))
	for _, occStart := range starts {
		occ := base
		if base.AllDay {
			occStart = time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, time.UTC)
		}
		occ.Start = occStart
		occ.End = occStart.Add(dur)
		occ.UID = base.UID + "#" + occStart.UTC().Format("20060102")
		out = append(out, occ)
	}
	return out, hitCap
}
