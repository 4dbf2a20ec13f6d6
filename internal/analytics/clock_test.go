package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocationFallsBackToUTC(t *testing.T) {
	loc, ok := Location("Not/AZone")
	assert.False(t, ok)
	assert.Equal(t, time.UTC, loc)

	loc, ok = Location("Asia/Shanghai")
	assert.True(t, ok)
	assert.Equal(t, "Asia/Shanghai", loc.String())
}

func TestArchiveBoundaryAlignsToLocalMidnight(t *testing.T) {
	shanghai, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	// 2024-03-10 01:00 UTC is already 09:00 on the 10th in Shanghai.
	now := time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC)
	boundary := ArchiveBoundary(now, shanghai, 3)

	want := time.Date(2024, 3, 7, 0, 0, 0, 0, shanghai)
	assert.True(t, boundary.Equal(want), "got %s, want %s", boundary, want)
}

func TestArchiveBoundaryIsNotRawSubtraction(t *testing.T) {
	// Late in the UTC day the naive "now - N days" lands mid-day and
	// would split a local date across two archiver runs.
	now := time.Date(2024, 3, 10, 22, 45, 0, 0, time.UTC)
	boundary := ArchiveBoundary(now, time.UTC, 1)

	assert.True(t, boundary.Equal(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)))
}

func TestDateOf(t *testing.T) {
	shanghai, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	at := time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-02", DateOf(at, shanghai))
	assert.Equal(t, "2024-01-01", DateOf(at, time.UTC))
}

func TestRetentionCutoff(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-02-09", RetentionCutoff(now, time.UTC, 30))
}
