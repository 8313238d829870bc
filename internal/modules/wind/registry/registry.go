// Package registry imports the station list that drives each ingestion run.
package registry

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"meteo-ingest/internal/modules/wind/types"
)

var ErrBlankStationID = errors.New("blank station_id")

type stationRow struct {
	StationID string `csv:"station_id"`
	LocalTZ   string `csv:"local_tz"`
}

type StationWriter interface {
	UpsertStations(ctx context.Context, stations []types.Station) (int, error)
}

// Read parses a semicolon-separated station_id;local_tz file. Ids are
// upper-cased; zones must be loadable when given.
func Read(r io.Reader) ([]types.Station, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	var rows []stationRow
	if err := gocsv.UnmarshalCSV(cr, &rows); err != nil {
		return nil, fmt.Errorf("read stations: %w", err)
	}

	out := make([]types.Station, 0, len(rows))
	for i, row := range rows {
		// Line 1 is the header.
		line := i + 2
		id := strings.ToUpper(strings.TrimSpace(row.StationID))
		if id == "" {
			return nil, fmt.Errorf("line %d: %w", line, ErrBlankStationID)
		}
		tz := strings.TrimSpace(row.LocalTZ)
		if tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return nil, fmt.Errorf("line %d: station %s: invalid local_tz %q: %w", line, id, tz, err)
			}
		}
		out = append(out, types.Station{ID: id, Timezone: tz})
	}
	return out, nil
}

type Importer struct {
	store  StationWriter
	logger *slog.Logger
}

func NewImporter(store StationWriter, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: store, logger: logger}
}

// Import reads r and upserts every station. Nothing is written if any row is invalid.
func (i *Importer) Import(ctx context.Context, r io.Reader) (int, error) {
	stations, err := Read(r)
	if err != nil {
		return 0, err
	}
	n, err := i.store.UpsertStations(ctx, stations)
	if err != nil {
		return 0, fmt.Errorf("store stations: %w", err)
	}
	i.logger.Info("stations imported", "count", n)
	return n, nil
}
