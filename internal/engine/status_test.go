package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatInZoneNilOnZeroTime(t *testing.T) {
	assert.Nil(t, formatInZone(time.Time{}, 3))
}

func TestFormatInZoneShiftsByTZHours(t *testing.T) {
	base := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	got := formatInZone(base, 3)
	require.NotNil(t, got)
	assert.Equal(t, "29.07.2026 15:00:00", *got)
}

func TestFormatPtrInZoneNilOnNilPointer(t *testing.T) {
	assert.Nil(t, formatPtrInZone(nil, 3))
}

func TestNTPOffsetStatsEmptyHistory(t *testing.T) {
	avg, max := ntpOffsetStats(nil)
	assert.Equal(t, 0.0, avg)
	assert.Equal(t, 0.0, max)
}

func TestNTPOffsetStatsAvgAndMax(t *testing.T) {
	history := []time.Duration{
		1 * time.Second,
		3 * time.Second,
		2 * time.Second,
	}
	avg, max := ntpOffsetStats(history)
	assert.Equal(t, 2.0, avg)
	assert.Equal(t, 3.0, max)
}
