package timeparser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReadingTimestamp_RFC3339(t *testing.T) {
	result, err := ParseReadingTimestamp("2025-12-29T10:30:45Z")
	require.NoError(t, err)
	assert.True(t, result.Equal(time.Date(2025, 12, 29, 10, 30, 45, 0, time.UTC)))
}

func TestParseReadingTimestamp_FractionalSeconds(t *testing.T) {
	result, err := ParseReadingTimestamp("2025-12-29T10:30:45.250Z")
	require.NoError(t, err)
	assert.True(t, result.Equal(time.Date(2025, 12, 29, 10, 30, 45, 250_000_000, time.UTC)))
}

func TestParseReadingTimestamp_OffsetNormalizedToUTC(t *testing.T) {
	result, err := ParseReadingTimestamp("2025-12-29T16:00:45+05:30")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, result.Location())
	assert.True(t, result.Equal(time.Date(2025, 12, 29, 10, 30, 45, 0, time.UTC)))
}

func TestParseReadingTimestamp_NoZoneIsUTC(t *testing.T) {
	result, err := ParseReadingTimestamp("2025-12-29T10:30:45")
	require.NoError(t, err)
	assert.True(t, result.Equal(time.Date(2025, 12, 29, 10, 30, 45, 0, time.UTC)))
}

func TestParseReadingTimestamp_SpaceSeparator(t *testing.T) {
	result, err := ParseReadingTimestamp("2025-12-29 10:30:45")
	require.NoError(t, err)
	assert.True(t, result.Equal(time.Date(2025, 12, 29, 10, 30, 45, 0, time.UTC)))
}

func TestParseReadingTimestamp_Invalid(t *testing.T) {
	for _, in := range []string{"", "invalid-date-string", "29/12/2025 10:30:45", "1735468245"} {
		_, err := ParseReadingTimestamp(in)
		assert.Error(t, err, in)
	}
}

func TestIsWithinTolerance(t *testing.T) {
	readingTime := time.Date(2025, 12, 29, 10, 30, 0, 0, time.UTC)

	assert.True(t, IsWithinTolerance(readingTime, readingTime.Add(3*time.Minute), 5))
	assert.False(t, IsWithinTolerance(readingTime, readingTime.Add(6*time.Minute), 5))
	assert.True(t, IsWithinTolerance(readingTime, readingTime.Add(-3*time.Minute), 5), "negative difference")
	assert.True(t, IsWithinTolerance(readingTime, readingTime.Add(5*time.Minute), 5), "exact boundary")
}
