// Package window computes the trailing re-fetch window on the 10-minute grid.
package window

import (
	"time"

	"meteo-ingest/internal/modules/wind/types"
)

const (
	Grid     = 10 * time.Minute
	Lookback = 48 * time.Hour
)

// Floor truncates t down to the 10-minute grid. The location of t is kept.
func Floor(t time.Time) time.Time {
	return t.Truncate(Grid)
}

// Window is an inclusive UTC range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Trailing returns the 48h window ending at the floored UTC value of now.
func Trailing(now time.Time) Window {
	end := Floor(now.UTC())
	return Window{Start: end.Add(-Lookback), End: end}
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Select returns the rows whose TimeUTC lies within w, in input order.
func (w Window) Select(rows []types.Observation) []types.Observation {
	out := make([]types.Observation, 0, len(rows))
	for _, r := range rows {
		if w.Contains(r.TimeUTC) {
			out = append(out, r)
		}
	}
	return out
}
