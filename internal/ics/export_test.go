package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staysync/internal/model"
)

func TestBuildBlockCalendar(t *testing.T) {
	prop := model.Property{Name: "seaside", DisplayName: "Seaside Cottage"}
	blocks := []model.Booking{
		{
			UID: "block-1", Source: model.ManualSource, PropertyName: "seaside",
			Start: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 7, 4, 0, 0, 0, 0, time.UTC),
			Status: model.StatusActive, IsManual: true, ManualType: model.ManualBlock, BlockReason: "renovation",
		},
		{
			UID: "block-2", Source: model.ManualSource, PropertyName: "seaside",
			Start: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 8, 2, 0, 0, 0, 0, time.UTC),
			Status: model.StatusCancelled, IsManual: true, ManualType: model.ManualBlock,
		},
		{
			UID: "merged-1", Source: model.ManualSource, PropertyName: "seaside",
			Start: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 9, 2, 0, 0, 0, 0, time.UTC),
			Status: model.StatusActive, IsManual: true, ManualType: model.ManualMerged,
		},
	}

	out := BuildBlockCalendar(prop, blocks, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	assert.Contains(t, out, "METHOD:PUBLISH")
	assert.Contains(t, out, "UID:block-1")
	assert.Contains(t, out, "DTSTART;VALUE=DATE:20250701")
	assert.Contains(t, out, "DTEND;VALUE=DATE:20250704")
	assert.Contains(t, out, "SUMMARY:Not available")
	assert.Contains(t, out, "DESCRIPTION:renovation")
	assert.Contains(t, out, "STATUS:CONFIRMED")
	assert.Contains(t, out, "TRANSP:OPAQUE")
	assert.NotContains(t, out, "block-2")
	assert.NotContains(t, out, "merged-1")

	parsed, err := ParseFeed([]byte(out), Source{ID: "roundtrip"}, ParseOptions{})
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, blocks[0].Start, parsed[0].Start)
	assert.Equal(t, blocks[0].End, parsed[0].End)
}

func TestCanonicalFilename(t *testing.T) {
	assert.Equal(t, "domek-laka.ics", CanonicalFilename("Domek Łąka"))
	assert.Equal(t, "seaside-2.ics", CanonicalFilename("  Seaside #2 "))
	assert.Equal(t, "calendar.ics", CanonicalFilename("!!!"))
}
