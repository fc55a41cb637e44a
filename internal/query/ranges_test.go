package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthRange(t *testing.T) {
	start, end := MonthRange(time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC), time.UTC)
	assert.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), end)

	// 02:00 UTC on July 1 is still June in São Paulo.
	sp := time.FixedZone("BRT", -3*3600)
	start, _ = MonthRange(time.Date(2025, 7, 1, 2, 0, 0, 0, time.UTC), sp)
	assert.Equal(t, time.June, start.Month())
}

func TestParseMonth(t *testing.T) {
	start, end, err := ParseMonth("2025-02", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 28*24*time.Hour, end.Sub(start))

	_, _, err = ParseMonth("2025-13", time.UTC)
	assert.Error(t, err)
}

func TestDayRange(t *testing.T) {
	start, end, err := DayRange("2025-06-01", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, end.Sub(start))

	_, _, err = DayRange("2025-6-1", time.UTC)
	assert.Error(t, err)
}

func TestParseRange(t *testing.T) {
	now := time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		from, to  string
		wantStart time.Time
		wantEnd   time.Time
		wantErr   bool
	}{
		{
			name:      "defaults to current month",
			wantStart: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "bare dates are inclusive",
			from:      "2025-06-01",
			to:        "2025-06-03",
			wantStart: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "timestamps are exact",
			from:      "2025-06-01T10:00:00Z",
			to:        "2025-06-01T11:00:00Z",
			wantStart: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
		},
		{
			name:      "from only spans a month",
			from:      "2025-01-15",
			wantStart: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC),
		},
		{name: "garbage", from: "yesterday", wantErr: true},
		{name: "reversed", from: "2025-06-10", to: "2025-06-01", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := ParseRange(tt.from, tt.to, now, time.UTC)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.wantStart.Equal(start), "start %s", start)
			assert.True(t, tt.wantEnd.Equal(end), "end %s", end)
		})
	}
}
