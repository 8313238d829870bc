package types

import "time"

// TimestampLayout is the zone-less layout used for tz_utc and tz_local.
const TimestampLayout = "2006-01-02 15:04:05"

// Fixed metadata carried by every observation row.
const (
	DataTypeObservation = "observation"
	TempUnit            = "C"
	WindSpeedUnit       = "m/s"
	SourceInfo          = "meteoswiss"
)

type Station struct {
	ID       string `json:"stationId"`
	Timezone string `json:"localTz"`
}

// Observation is one 10-minute record for a station. TimeUTC is UTC; TimeLocal
// holds the station's wall clock in the UTC location so it formats without an offset.
type Observation struct {
	StationID     string    `json:"stationId"`
	TimeUTC       time.Time `json:"tzUtc"`
	TimeLocal     time.Time `json:"tzLocal"`
	DataType      string    `json:"dataType"`
	TemperatureC  *float64  `json:"tempC"`
	TempUnit      string    `json:"tempUnit"`
	WindSpeedMS   *float64  `json:"windSpeedMs"`
	WindSpeedUnit string    `json:"windSpeedUnit"`
	WindDirDeg    *float64  `json:"windDirDeg"`
	SourceInfo    string    `json:"sourceInfo"`
}

// Table is a raw export: a header row plus data records.
type Table struct {
	Header  []string
	Records [][]string
}

type StationResult struct {
	StationID  string        `json:"stationId"`
	Fetched    int           `json:"rowsFetched"`
	Normalized int           `json:"rowsNormalized"`
	InWindow   int           `json:"rowsInWindow"`
	New        int           `json:"rowsNew"`
	Upserted   int           `json:"rowsUpserted"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"durationNs"`
}

type RunSummary struct {
	RunID         string          `json:"runId"`
	StartedAt     time.Time       `json:"startedAt"`
	FinishedAt    time.Time       `json:"finishedAt"`
	WindowStart   time.Time       `json:"windowStart"`
	WindowEnd     time.Time       `json:"windowEnd"`
	Stations      []StationResult `json:"stations"`
	TotalUpserted int             `json:"totalUpserted"`
	Failed        int             `json:"failed"`
}
