package ics

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "staysync/internal/log"
	"staysync/internal/model"
)

// Canonical labels for vendor placeholder summaries.
const (
	SummaryNotAvailable       = "NOT AVAILABLE"
	SummaryNotAvailableAirbnb = "NOT AVAILABLE (Airbnb)"
	SummaryReserved           = "RESERVED"
)

const (
	defaultEventDuration = time.Hour
	defaultExpandHorizon = 400 * 24 * time.Hour
)

// ParseOptions tunes ParseFeed. The zero value is usable.
type ParseOptions struct {
	// Now anchors the default expansion horizon. Zero means time.Now().
	Now time.Time
	// ExpandUntil bounds RRULE expansion. Zero means Now + 400 days.
	ExpandUntil time.Time
	// MaxOccurrencesPerEvent caps RRULE expansion per event.
	MaxOccurrencesPerEvent int
}

// ParseFeed parses one iCal payload into reservations for src.
//
//   - It has no shared state; concurrent calls are independent.
//   - A malformed VEVENT is logged and skipped; it never fails the batch.
//   - All-day values are anchored to UTC midnight; timestamped values keep
//     their instant (TZID handled by golang-ical).
//   - Recurring events are expanded into one reservation per occurrence.
//
// Output order follows the feed. Callers sort explicitly.
func ParseFeed(body []byte, src Source, opts ParseOptions) ([]model.Reservation, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if !bytes.Contains(body, []byte("BEGIN:VCALENDAR")) {
		return nil, errors.New("response is not an iCalendar document")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "source", appLog.RedactURL(src.URL))
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.ExpandUntil.IsZero() {
		opts.ExpandUntil = opts.Now.Add(defaultExpandHorizon)
	}
	if opts.MaxOccurrencesPerEvent <= 0 {
		opts.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	out := make([]model.Reservation, 0)
	skipped := 0

	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(src, ve)
		if perr != nil {
			skipped++
			appLog.Warn("ics vevent skipped", "reason", perr.Error(), "source", appLog.RedactURL(src.URL))
			continue
		}
		if ev.cancelled {
			appLog.Debug("ics vevent cancelled upstream", "uid", ev.res.UID)
			continue
		}
		if ev.rrule == "" {
			out = append(out, ev.res)
			continue
		}
		occ, hitCap := expandRecurring(ev, opts)
		if hitCap {
			appLog.Warn("ics recurrence truncated", "uid", ev.res.UID, "cap", opts.MaxOccurrencesPerEvent)
		}
		out = append(out, occ...)
	}

	appLog.Debug("ics parse completed", "source", appLog.RedactURL(src.URL), "reservations", len(out), "skipped", skipped)
	return out, nil
}

// parsedEvent carries the recurrence fields that do not belong on a
// Reservation.
type parsedEvent struct {
	res       model.Reservation
	rrule     string
	exDates   []time.Time
	cancelled bool
}

func parseVEvent(src Source, ve *ical.VEvent) (parsedEvent, error) {
	var ev parsedEvent
	r := &ev.res
	r.Source = src.ID
	r.PropertyName = src.PropertyName

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		r.Summary = NormalizeSummary(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		r.Description = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		r.Location = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		ev.cancelled = strings.EqualFold(strings.TrimSpace(p.Value), "CANCELLED")
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || strings.TrimSpace(dtStart.Value) == "" {
		return ev, errors.New("missing DTSTART")
	}
	start, allDay, err := eventTime(dtStart.Value, dtStart.ICalParameters, ve.GetStartAt)
	if err != nil {
		return ev, fmt.Errorf("bad DTSTART %q: %w", dtStart.Value, err)
	}
	r.Start = start
	r.AllDay = allDay

	r.End = start.Add(defaultEventDuration)
	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil && strings.TrimSpace(dtEnd.Value) != "" {
		end, _, err := eventTime(dtEnd.Value, dtEnd.ICalParameters, ve.GetEndAt)
		if err != nil {
			return ev, fmt.Errorf("bad DTEND %q: %w", dtEnd.Value, err)
		}
		r.End = end
	}
	if !r.End.After(r.Start) {
		return ev, fmt.Errorf("end %s is not after start %s", r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
	}

	if uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId); uidProp != nil && strings.TrimSpace(uidProp.Value) != "" {
		r.UID = strings.TrimSpace(uidProp.Value)
	} else {
		r.UID = fallbackUID(src.ID, r.Start, r.Summary)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.rrule = strings.TrimSpace(p.Value)
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, _, err := eventTime(part, p.ICalParameters, nil); err == nil {
				ev.exDates = append(ev.exDates, t)
			}
		}
	}

	return ev, nil
}

// eventTime resolves a DATE or DATE-TIME value. Dates become UTC midnight so
// day comparisons do not depend on the server's zone; date-times go through
// the library first (it knows about VTIMEZONE/TZID), then a local fallback.
func eventTime(value string, params map[string][]string, libParse func() (time.Time, error)) (time.Time, bool, error) {
	value = strings.TrimSpace(value)

	isDate := len(value) == 8 && !strings.Contains(value, "T")
	if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		isDate = true
	}
	if isDate {
		t, err := time.Parse("20060102", value[:min(len(value), 8)])
		return t, true, err
	}

	if libParse != nil {
		if t, err := libParse(); err == nil && !t.IsZero() {
			return t, false, nil
		}
	}

	if strings.HasSuffix(value, "Z") {
		t, err := time.Parse("20060102T150405Z", value)
		return t, false, err
	}
	loc := time.UTC
	if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
		if l, err := time.LoadLocation(tzs[0]); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation("20060102T150405", value, loc)
	return t, false, err
}

// NormalizeSummary maps vendor placeholders onto canonical labels and passes
// everything else through with iCal text escapes removed.
func NormalizeSummary(raw string) string {
	s := unescapeText(raw)
	switch {
	case strings.Contains(s, "Airbnb (Not available)"):
		return SummaryNotAvailableAirbnb
	case strings.Contains(s, "CLOSED - Not available"), strings.Contains(s, "Not available"):
		return SummaryNotAvailable
	case strings.Contains(s, "Reserved"):
		return SummaryReserved
	default:
		return s
	}
}

// golang-ical already decodes TEXT escapes; this folds the resulting line
// breaks and catches escapes left in non-TEXT values.
var textUnescaper = strings.NewReplacer("\r\n", " ", "\n", " ", `\n`, " ", `\N`, " ", `\,`, ",", `\;`, ";")

func unescapeText(s string) string {
	return strings.TrimSpace(textUnescaper.Replace(s))
}

// fallbackUID derives a stable identity for events that omit UID, so that
// re-parsing the same feed upserts instead of duplicating.
func fallbackUID(source string, start time.Time, summary string) string {
	sum := sha256.Sum256([]byte(source + "|" + start.UTC().Format(time.RFC3339) + "|" + summary))
	return "generated-" + hex.EncodeToString(sum[:8])
}
