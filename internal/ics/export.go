package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/mozillazg/go-unidecode"

	"staysync/internal/model"
)

const (
	exportProductID = "-//staysync//blocks//EN"
	blockSummary    = "Not available"
)

// BuildBlockCalendar renders the active manual blocks of one property as a
// PUBLISH calendar that booking platforms can subscribe to. Cancelled or
// non-block bookings are ignored.
func BuildBlockCalendar(property model.Property, blocks []model.Booking, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(exportProductID)
	name := property.DisplayName
	if name == "" {
		name = property.Name
	}
	cal.SetName(name)
	cal.SetXWRCalName(name)

	for _, b := range blocks {
		if !b.IsBlock() || !b.Active() {
			continue
		}
		ev := cal.AddEvent(b.UID)
		ev.SetDtStampTime(now)
		if model.IsDateValue(b.Start) && model.IsDateValue(b.End) {
			ev.SetAllDayStartAt(b.Start.UTC())
			ev.SetAllDayEndAt(b.End.UTC())
		} else {
			ev.SetStartAt(b.Start)
			ev.SetEndAt(b.End)
		}
		ev.SetSummary(blockSummary)
		if b.BlockReason != "" {
			ev.SetDescription(b.BlockReason)
		}
		ev.SetStatus(ical.ObjectStatusConfirmed)
		ev.SetTimeTransparency(ical.TransparencyOpaque)
	}
	return cal.Serialize()
}

// CanonicalFilename turns a property name into an ASCII attachment name,
// e.g. "Domek Łąka" -> "domek-laka.ics".
func CanonicalFilename(name string) string {
	ascii := strings.ToLower(unidecode.Unidecode(name))

	var b strings.Builder
	dash := false
	for _, r := range ascii {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if slug == "" {
		slug = "calendar"
	}
	return slug + ".ics"
}
