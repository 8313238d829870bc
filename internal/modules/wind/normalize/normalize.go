// Package normalize turns a raw station export into canonical observation rows.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"meteo-ingest/internal/config"
	"meteo-ingest/internal/modules/wind/types"
	"meteo-ingest/internal/modules/wind/window"
)

var ErrUnknownZone = errors.New("unknown time zone")

// timestampHeaders are matched case-insensitively after trimming.
var timestampHeaders = []string{"reference_timestamp", "time", "timestamp", "datetime", "date"}

// fallbackTimestampColumn is used when no header matches. It silently picks the
// wrong column for exports laid out differently.
const fallbackTimestampColumn = 1

var timestampLayouts = []string{
	"02.01.2006 15:04",
	"02.01.2006 15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"200601021504",
}

type Params struct {
	Temperature   string
	WindSpeed     string
	WindDirection string
}

type Options struct {
	Params          Params
	DefaultTimezone string
	// LocalStart and LocalEnd are wall-clock bounds in the station zone, held
	// in the UTC location. Zero means unbounded.
	LocalStart time.Time
	LocalEnd   time.Time
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Params: Params{
			Temperature:   cfg.ParamTemperature,
			WindSpeed:     cfg.ParamWindSpeed,
			WindDirection: cfg.ParamWindDirection,
		},
		DefaultTimezone: cfg.DefaultTimezone,
		LocalStart:      cfg.LocalStart,
		LocalEnd:        cfg.LocalEnd,
	}
}

type Normalizer struct {
	opts Options

	mu    sync.Mutex
	zones map[string]*time.Location
}

func New(opts Options) *Normalizer {
	if opts.DefaultTimezone == "" {
		opts.DefaultTimezone = "Europe/Zurich"
	}
	return &Normalizer{opts: opts, zones: make(map[string]*time.Location)}
}

// Normalize converts table into observation rows for stationID. Rows without a
// timestamp, wind speed or wind direction are dropped; unparseable numbers
// become missing values. zone is the station's IANA zone; empty means the default.
func (n *Normalizer) Normalize(stationID string, table types.Table, zone string) ([]types.Observation, error) {
	loc, err := n.location(zone)
	if err != nil {
		return nil, err
	}

	tcol := TimestampColumn(table.Header)
	tempCol := columnIndex(table.Header, n.opts.Params.Temperature)
	speedCol := columnIndex(table.Header, n.opts.Params.WindSpeed)
	dirCol := columnIndex(table.Header, n.opts.Params.WindDirection)

	out := make([]types.Observation, 0, len(table.Records))
	for _, rec := range table.Records {
		ts, ok := parseTimestamp(field(rec, tcol))
		if !ok {
			continue
		}
		local := wallClock(ts, loc)
		if !n.inLocalBounds(local) {
			continue
		}

		speed := parseNumber(field(rec, speedCol), 3)
		dir := parseNumber(field(rec, dirCol), 1)
		if speed == nil || dir == nil {
			continue
		}

		out = append(out, types.Observation{
			StationID:     stationID,
			TimeUTC:       window.Floor(ts),
			TimeLocal:     window.Floor(local),
			DataType:      types.DataTypeObservation,
			TemperatureC:  parseNumber(field(rec, tempCol), 2),
			TempUnit:      types.TempUnit,
			WindSpeedMS:   speed,
			WindSpeedUnit: types.WindSpeedUnit,
			WindDirDeg:    dir,
			SourceInfo:    types.SourceInfo,
		})
	}
	return out, nil
}

func (n *Normalizer) location(zone string) (*time.Location, error) {
	zone = strings.TrimSpace(zone)
	if zone == "" {
		zone = n.opts.DefaultTimezone
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if loc, ok := n.zones[zone]; ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrUnknownZone, zone, err)
	}
	n.zones[zone] = loc
	return loc, nil
}

func (n *Normalizer) inLocalBounds(local time.Time) bool {
	if !n.opts.LocalStart.IsZero() && local.Before(n.opts.LocalStart) {
		return false
	}
	if !n.opts.LocalEnd.IsZero() && local.After(n.opts.LocalEnd) {
		return false
	}
	return true
}

// TimestampColumn returns the index of the timestamp column in header, or the
// positional fallback when no known name matches.
func TimestampColumn(header []string) int {
	for _, name := range timestampHeaders {
		if i := columnIndex(header, name); i >= 0 {
			return i
		}
	}
	return fallbackTimestampColumn
}

func columnIndex(header []string, name string) int {
	if name == "" {
		return -1
	}
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// wallClock expresses ts in loc and re-labels the wall clock as UTC so that it
// carries no offset.
func wallClock(ts time.Time, loc *time.Location) time.Time {
	l := ts.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), l.Minute(), l.Second(), l.Nanosecond(), time.UTC)
}

func parseNumber(s string, decimals int) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	v = Round(v, decimals)
	return &v
}

// Round rounds v half-to-even at the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.RoundToEven(v*p) / p
}
