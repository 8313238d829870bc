package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"meteo-ingest/internal/db"
	"meteo-ingest/internal/modules/wind/types"
)

//go:embed sql/list-stations.sql
var listStationsSQL string

//go:embed sql/existing-timestamps.sql
var existingTimestampsSQL string

//go:embed sql/upsert-observations.sql
var upsertObservationsSQL string

//go:embed sql/upsert-station.sql
var upsertStationSQL string

//go:embed sql/count-observations.sql
var countObservationsSQL string

// BatchSize bounds the rows sent in one INSERT statement.
const BatchSize = 800

const (
	columnsPerRow  = 10
	rowPlaceholder = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
)

type WindRepository interface {
	ListStations(ctx context.Context, defaultTZ string) ([]types.Station, error)
	ExistingTimestamps(ctx context.Context, stationID string, from, to time.Time) ([]time.Time, error)
	UpsertObservations(ctx context.Context, rows []types.Observation) (int, error)
	UpsertStations(ctx context.Context, stations []types.Station) (int, error)
	CountObservations(ctx context.Context, stationID string) (int, error)
	Ping(ctx context.Context) error
}

type repositoryImpl struct {
	handle *db.Handle
}

func NewRepository(handle *db.Handle) WindRepository {
	return &repositoryImpl{handle: handle}
}

func (r *repositoryImpl) ListStations(ctx context.Context, defaultTZ string) (out []types.Station, err error) {
	err = r.handle.Use(func(pool *sql.DB) error {
		rows, err := pool.QueryContext(ctx, listStationsSQL, defaultTZ)
		if err != nil {
			return fmt.Errorf("list stations: %w", err)
		}
		defer func() {
			if err := rows.Close(); err != nil {
				slog.Error("close stations rows", "error", err)
			}
		}()

		for rows.Next() {
			var s types.Station
			if err := rows.Scan(&s.ID, &s.Timezone); err != nil {
				return err
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExistingTimestamps returns the tz_utc values already stored for stationID
// within [from, to].
func (r *repositoryImpl) ExistingTimestamps(ctx context.Context, stationID string, from, to time.Time) (out []time.Time, err error) {
	err = r.handle.Use(func(pool *sql.DB) error {
		rows, err := pool.QueryContext(ctx, existingTimestampsSQL, stationID, formatTime(from), formatTime(to))
		if err != nil {
			return fmt.Errorf("existing timestamps: %w", err)
		}
		defer func() {
			if err := rows.Close(); err != nil {
				slog.Error("close existing timestamps rows", "error", err)
			}
		}()

		for rows.Next() {
			var s string
			if err := rows.Scan(&s); err != nil {
				return err
			}
			t, err := time.ParseInLocation(types.TimestampLayout, s, time.UTC)
			if err != nil {
				return fmt.Errorf("parse tz_utc %q: %w", s, err)
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertObservations writes rows in batches of BatchSize inside one
// transaction. Either every batch commits or none does. It returns the number
// of rows submitted.
func (r *repositoryImpl) UpsertObservations(ctx context.Context, rows []types.Observation) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	err := r.handle.Use(func(pool *sql.DB) error {
		return inTx(ctx, pool, "upsert", func(tx *sql.Tx) error {
			for start := 0; start < len(rows); start += BatchSize {
				end := min(start+BatchSize, len(rows))
				query, args := buildUpsert(rows[start:end])
				if _, err := tx.ExecContext(ctx, query, args...); err != nil {
					return fmt.Errorf("upsert batch %d-%d: %w", start, end, err)
				}
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func buildUpsert(batch []types.Observation) (string, []any) {
	placeholders := make([]string, len(batch))
	args := make([]any, 0, len(batch)*columnsPerRow)
	for i, o := range batch {
		placeholders[i] = rowPlaceholder
		args = append(args,
			o.StationID,
			formatTime(o.TimeUTC),
			formatTime(o.TimeLocal),
			o.DataType,
			nullable(o.TemperatureC),
			o.TempUnit,
			nullable(o.WindSpeedMS),
			o.WindSpeedUnit,
			nullable(o.WindDirDeg),
			o.SourceInfo,
		)
	}
	return fmt.Sprintf(upsertObservationsSQL, strings.Join(placeholders, ",\n       ")), args
}

func (r *repositoryImpl) UpsertStations(ctx context.Context, stations []types.Station) (int, error) {
	err := r.handle.Use(func(pool *sql.DB) error {
		return inTx(ctx, pool, "stations", func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, upsertStationSQL)
			if err != nil {
				return fmt.Errorf("prepare station upsert: %w", err)
			}
			defer stmt.Close()

			for _, s := range stations {
				var tz any
				if s.Timezone != "" {
					tz = s.Timezone
				}
				if _, err := stmt.ExecContext(ctx, s.ID, tz); err != nil {
					return fmt.Errorf("upsert station %s: %w", s.ID, err)
				}
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return len(stations), nil
}

// inTx runs fn in a transaction and commits it. Any error rolls back.
func inTx(ctx context.Context, pool *sql.DB, name string, fn func(tx *sql.Tx) error) (err error) {
	tx, err := pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", name, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Error("rollback "+name, "error", rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}

func (r *repositoryImpl) CountObservations(ctx context.Context, stationID string) (n int, err error) {
	err = r.handle.Use(func(pool *sql.DB) error {
		return pool.QueryRowContext(ctx, countObservationsSQL, stationID).Scan(&n)
	})
	return n, err
}

// Ping runs under Use; a concurrent Reset waits for it.
func (r *repositoryImpl) Ping(ctx context.Context) error {
	return r.handle.Use(func(pool *sql.DB) error {
		var one int
		return pool.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	})
}

func formatTime(t time.Time) string {
	return t.Format(types.TimestampLayout)
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
