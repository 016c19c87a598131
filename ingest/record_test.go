package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFields_accepted(t *testing.T) {
	rec := ParseFields(2, []string{" Blue Bottle ", "cafe", "37.77", "-122.41", "2025-01-02T03:04:05Z"})

	accepted, ok := rec.(Accepted)
	require.True(t, ok, "%#v", rec)
	assert.Equal(t, "Blue Bottle", accepted.Name)
	assert.Equal(t, 37.77, accepted.Lat)
	assert.Equal(t, -122.41, accepted.Lon)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), accepted.UpdatedAt)
}

func TestParseFields_extraColumnsIgnored(t *testing.T) {
	rec := ParseFields(2, []string{"A", "cafe", "1", "2", "2025-01-02", "extra", "more"})
	_, ok := rec.(Accepted)
	assert.True(t, ok)
}

func TestParseFields_timestampLayouts(t *testing.T) {
	want := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, ts := range []string{"2025-01-02T03:04:05Z", "2025-01-02T05:04:05+02:00", "2025-01-02T03:04:05", "2025-01-02 03:04:05"} {
		accepted, ok := ParseFields(2, []string{"A", "cafe", "1", "2", ts}).(Accepted)
		require.True(t, ok, ts)
		assert.True(t, want.Equal(accepted.UpdatedAt), ts)
		assert.Equal(t, time.UTC, accepted.UpdatedAt.Location(), ts)
	}

	accepted, ok := ParseFields(2, []string{"A", "cafe", "1", "2", "2025-01-02"}).(Accepted)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), accepted.UpdatedAt)
}

func TestParseFields_rejected(t *testing.T) {
	cases := map[RejectReason][]string{
		RejectMissingFields: {"A", "cafe", "1", "2"},
		RejectEmptyName:     {" ", "cafe", "1", "2", "2025-01-01"},
		RejectEmptyCategory: {"A", "", "1", "2", "2025-01-01"},
		RejectNameTooLong:   {strings.Repeat("n", 513), "cafe", "1", "2", "2025-01-01"},
		RejectCategoryLong:  {"A", strings.Repeat("c", 65), "1", "2", "2025-01-01"},
		RejectBadLatitude:   {"A", "cafe", "north", "2", "2025-01-01"},
		RejectBadLongitude:  {"A", "cafe", "1", "NaN", "2025-01-01"},
		RejectBadTimestamp:  {"A", "cafe", "1", "2", "yesterday"},
	}
	for reason, fields := range cases {
		rec := ParseFields(7, fields)
		rejected, ok := rec.(Rejected)
		require.True(t, ok, "%s: %#v", reason, rec)
		assert.Equal(t, reason, rejected.Reason)
		assert.Equal(t, 7, rejected.Line)
	}
}

func TestParseFields_lengthsCountCharacters(t *testing.T) {
	accepted, ok := ParseFields(2, []string{strings.Repeat("é", 512), strings.Repeat("咖", 64), "1", "2", "2025-01-01"}).(Accepted)
	require.True(t, ok)
	assert.Len(t, accepted.Name, 1024)

	rejected, ok := ParseFields(2, []string{strings.Repeat("é", 513), "cafe", "1", "2", "2025-01-01"}).(Rejected)
	require.True(t, ok)
	assert.Equal(t, RejectNameTooLong, rejected.Reason)
}

func TestParseFields_outOfRangeOrdinates(t *testing.T) {
	rejected, ok := ParseFields(2, []string{"A", "cafe", "91", "0", "2025-01-01"}).(Rejected)
	require.True(t, ok)
	assert.Equal(t, RejectBadLatitude, rejected.Reason)

	rejected, ok = ParseFields(2, []string{"A", "cafe", "0", "-180.5", "2025-01-01"}).(Rejected)
	require.True(t, ok)
	assert.Equal(t, RejectBadLongitude, rejected.Reason)
}
