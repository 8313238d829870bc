package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meteo-ingest/internal/modules/wind/types"
)

func TestTrailing(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 7, 0, 0, time.UTC)
	w := Trailing(now)

	assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), w.End)
	assert.Equal(t, time.Date(2025, 5, 30, 10, 0, 0, 0, time.UTC), w.Start)
}

func TestTrailing_NonUTCInput(t *testing.T) {
	zurich := time.FixedZone("CEST", 2*60*60)
	now := time.Date(2025, 6, 1, 12, 7, 30, 0, zurich)
	w := Trailing(now)

	assert.Equal(t, time.UTC, w.End.Location())
	assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), w.End)
}

func TestFloor(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "mid slot",
			in:   time.Date(2025, 6, 1, 10, 7, 59, 999, time.UTC),
			want: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			name: "on grid",
			in:   time.Date(2025, 6, 1, 10, 20, 0, 0, time.UTC),
			want: time.Date(2025, 6, 1, 10, 20, 0, 0, time.UTC),
		},
		{
			name: "just before boundary",
			in:   time.Date(2025, 6, 1, 23, 59, 59, 0, time.UTC),
			want: time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Floor(tt.in)
			require.True(t, got.Equal(tt.want), "Floor(%v) = %v, want %v", tt.in, got, tt.want)
			assert.True(t, Floor(got).Equal(got), "Floor is not idempotent at %v", got)
		})
	}
}

func TestSelect_InclusiveBounds(t *testing.T) {
	w := Trailing(time.Date(2025, 6, 1, 10, 7, 0, 0, time.UTC))
	at := func(ts time.Time) types.Observation { return types.Observation{StationID: "BER", TimeUTC: ts} }

	rows := []types.Observation{
		at(w.Start.Add(-Grid)),
		at(w.Start),
		at(w.Start.Add(24 * time.Hour)),
		at(w.End),
		at(w.End.Add(Grid)),
	}

	got := w.Select(rows)
	require.Len(t, got, 3)
	assert.True(t, got[0].TimeUTC.Equal(w.Start), "first = %v", got[0].TimeUTC)
	assert.True(t, got[2].TimeUTC.Equal(w.End), "last = %v", got[2].TimeUTC)
}
