package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSource = Source{ID: "airbnb-seaside", URL: "https://example.test/a.ics?s=secret", PropertyName: "seaside"}

func calendar(events ...string) []byte {
	lines := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN"}
	for _, ev := range events {
		lines = append(lines, "BEGIN:VEVENT")
		lines = append(lines, strings.Split(strings.TrimSpace(ev), "\n")...)
		lines = append(lines, "END:VEVENT")
	}
	lines = append(lines, "END:VCALENDAR")
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func TestParseFeed_AllDayEvents(t *testing.T) {
	body := calendar(`
UID:res-1@airbnb.com
DTSTART;VALUE=DATE:20250601
DTEND;VALUE=DATE:20250605
SUMMARY:Reserved
DESCRIPTION:Reservation URL
LOCATION:Seaside`)

	got, err := ParseFeed(body, testSource, ParseOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	r := got[0]
	assert.Equal(t, "res-1@airbnb.com", r.UID)
	assert.Equal(t, "airbnb-seaside", r.Source)
	assert.Equal(t, "seaside", r.PropertyName)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), r.Start)
	assert.Equal(t, time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC), r.End)
	assert.True(t, r.AllDay)
	assert.Equal(t, SummaryReserved, r.Summary)
	assert.Equal(t, "Seaside", r.Location)
}

func TestParseFeed_TimedAndDefaults(t *testing.T) {
	body := calendar(`
UID:timed
DTSTART;TZID=Europe/Warsaw:20250601T150000
DTEND;TZID=Europe/Warsaw:20250603T100000
SUMMARY:Guest stay`, `
UID:no-end
DTSTART:20250610T120000Z
SUMMARY:Open house`)

	got, err := ParseFeed(body, testSource, ParseOptions{})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.True(t, got[0].Start.Equal(time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)), got[0].Start)
	assert.True(t, got[0].End.Equal(time.Date(2025, 6, 3, 8, 0, 0, 0, time.UTC)), got[0].End)
	assert.False(t, got[0].AllDay)

	assert.Equal(t, time.Hour, got[1].End.Sub(got[1].Start), "missing DTEND defaults to one hour")
}

func TestParseFeed_SkipsBrokenAndCancelled(t *testing.T) {
	body := calendar(`
UID:ok
DTSTART;VALUE=DATE:20250601
DTEND;VALUE=DATE:20250602
SUMMARY:fine`, `
UID:backwards
DTSTART;VALUE=DATE:20250605
DTEND;VALUE=DATE:20250601
SUMMARY:bad`, `
UID:nostart
SUMMARY:nothing`, `
UID:gone
DTSTART;VALUE=DATE:20250701
DTEND;VALUE=DATE:20250702
STATUS:CANCELLED
SUMMARY:cancelled`)

	got, err := ParseFeed(body, testSource, ParseOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].UID)
}

func TestParseFeed_FallbackUIDIsStable(t *testing.T) {
	body := calendar(`
DTSTART;VALUE=DATE:20250601
DTEND;VALUE=DATE:20250602
SUMMARY:Not available`)

	first, err := ParseFeed(body, testSource, ParseOptions{})
	require.NoError(t, err)
	second, err := ParseFeed(body, testSource, ParseOptions{})
	require.NoError(t, err)

	require.Len(t, first, 1)
	assert.True(t, strings.HasPrefix(first[0].UID, "generated-"))
	assert.Equal(t, first[0].UID, second[0].UID)
}

func TestParseFeed_RejectsNonCalendar(t *testing.T) {
	_, err := ParseFeed([]byte("   "), testSource, ParseOptions{})
	assert.Error(t, err)

	_, err = ParseFeed([]byte("<html>login</html>"), testSource, ParseOptions{})
	assert.Error(t, err)
}

func TestParseFeed_ExpandsRecurrence(t *testing.T) {
	body := calendar(`
UID:owner-block
DTSTART;VALUE=DATE:20250602
DTEND;VALUE=DATE:20250603
RRULE:FREQ=WEEKLY;COUNT=4
EXDATE;VALUE=DATE:20250616
SUMMARY:Owner stay`)

	got, err := ParseFeed(body, testSource, ParseOptions{Now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.Len(t, got, 3)

	uids := []string{got[0].UID, got[1].UID, got[2].UID}
	assert.Equal(t, []string{"owner-block#20250602", "owner-block#20250609", "owner-block#20250623"}, uids)
	for _, r := range got {
		assert.Equal(t, 24*time.Hour, r.End.Sub(r.Start))
		assert.True(t, r.AllDay)
	}
}

func TestNormalizeSummary(t *testing.T) {
	tests := map[string]string{
		"Airbnb (Not available)":  SummaryNotAvailableAirbnb,
		"CLOSED - Not available":  SummaryNotAvailable,
		"Not available":           SummaryNotAvailable,
		"Reserved":                SummaryReserved,
		`Jan Kowalski\, 2 guests`: "Jan Kowalski, 2 guests",
		"line one\nline two":      "line one line two",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeSummary(in), in)
	}
}
