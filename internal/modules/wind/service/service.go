package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"meteo-ingest/internal/modules/wind/source"
	"meteo-ingest/internal/modules/wind/types"
	"meteo-ingest/internal/modules/wind/window"
)

type ExistingLookup interface {
	ExistingTimestamps(ctx context.Context, stationID string, from, to time.Time) ([]time.Time, error)
}

type Store interface {
	ExistingLookup
	ListStations(ctx context.Context, defaultTZ string) ([]types.Station, error)
	UpsertObservations(ctx context.Context, rows []types.Observation) (int, error)
}

type Source interface {
	Fetch(ctx context.Context, stationID string) (types.Table, error)
}

type Normalizer interface {
	Normalize(stationID string, table types.Table, zone string) ([]types.Observation, error)
}

// Reconnector discards and reopens the store's connection pool.
type Reconnector interface {
	Reset() error
}

type Reporter interface {
	PublishStation(ctx context.Context, result types.StationResult) error
	PublishRun(ctx context.Context, summary types.RunSummary) error
}

type Deps struct {
	Store           Store
	Source          Source
	Normalizer      Normalizer
	Reconnector     Reconnector
	Reporter        Reporter
	Logger          *slog.Logger
	DefaultTimezone string
	Now             func() time.Time
}

type Service struct {
	store       Store
	source      Source
	normalizer  Normalizer
	reconnector Reconnector
	reporter    Reporter
	logger      *slog.Logger
	defaultTZ   string
	now         func() time.Time

	mu     sync.RWMutex
	latest *types.RunSummary
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.DefaultTimezone == "" {
		d.DefaultTimezone = "Europe/Zurich"
	}
	return &Service{
		store:       d.Store,
		source:      d.Source,
		normalizer:  d.Normalizer,
		reconnector: d.Reconnector,
		reporter:    d.Reporter,
		logger:      d.Logger,
		defaultTZ:   d.DefaultTimezone,
		now:         d.Now,
	}
}

// RunOnce processes every registered station in order. A failing station is
// logged and counted; the run only fails when the station list is unavailable.
func (s *Service) RunOnce(ctx context.Context) (types.RunSummary, error) {
	started := s.now()
	summary := types.RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: started.UTC(),
	}
	w := window.Trailing(started)
	summary.WindowStart, summary.WindowEnd = w.Start, w.End
	logger := s.logger.With("run_id", summary.RunID)

	stations, err := s.store.ListStations(ctx, s.defaultTZ)
	if err != nil {
		s.resetStore(logger)
		return summary, fmt.Errorf("list stations: %w", err)
	}
	logger.Info("ingestion run started",
		"stations", len(stations),
		"window_start", w.Start.Format(types.TimestampLayout),
		"window_end", w.End.Format(types.TimestampLayout),
	)

	for _, st := range stations {
		if ctx.Err() != nil {
			logger.Warn("ingestion run interrupted", "error", ctx.Err())
			break
		}

		result := s.IngestStation(ctx, st, w)
		summary.Stations = append(summary.Stations, result)
		summary.TotalUpserted += result.Upserted
		if result.Error != "" {
			summary.Failed++
		}
		s.publishStation(ctx, logger, result)
	}

	summary.FinishedAt = s.now().UTC()
	logger.Info("ingestion run finished",
		"total_upserted", summary.TotalUpserted,
		"failed", summary.Failed,
		"duration_ms", summary.FinishedAt.Sub(summary.StartedAt).Milliseconds(),
	)

	s.mu.Lock()
	s.latest = &summary
	s.mu.Unlock()

	if s.reporter != nil {
		if err := s.reporter.PublishRun(ctx, summary); err != nil {
			logger.Warn("publish run summary failed", "error", err)
		}
	}
	return summary, nil
}

// IngestStation runs fetch, normalise, window, filter and upsert for one
// station. Errors are reported in the result, never returned.
func (s *Service) IngestStation(ctx context.Context, st types.Station, w window.Window) types.StationResult {
	start := s.now()
	result := types.StationResult{StationID: st.ID}
	logger := s.logger.With("station_id", st.ID)

	err := s.ingest(ctx, st, w, &result)
	result.Duration = s.now().Sub(start)
	if err != nil {
		result.Upserted = 0
		result.Error = err.Error()

		var se *StageError
		stage := Stage("unknown")
		if errors.As(err, &se) {
			stage = se.Stage
		}
		logger.Error("station ingestion failed", "stage", string(stage), "error", err)
		if stage == StageStore {
			s.resetStore(logger)
		}
		return result
	}

	logger.Info("station ingested",
		"rows_fetched", result.Fetched,
		"rows_normalized", result.Normalized,
		"rows_in_window", result.InWindow,
		"rows_new", result.New,
		"rows_upserted", result.Upserted,
	)
	return result
}

func (s *Service) ingest(ctx context.Context, st types.Station, w window.Window, result *types.StationResult) error {
	table, err := s.source.Fetch(ctx, st.ID)
	if err != nil {
		if errors.Is(err, source.ErrParse) {
			return stageErr(StageParse, err)
		}
		return stageErr(StageFetch, err)
	}
	result.Fetched = len(table.Records)

	rows, err := s.normalizer.Normalize(st.ID, table, st.Timezone)
	if err != nil {
		return stageErr(StageNormalize, err)
	}
	result.Normalized = len(rows)

	n, err := UpsertLastWindow(ctx, s.store, st.ID, rows, w, result)
	if err != nil {
		return err
	}
	result.Upserted = n
	return nil
}

// UpsertLastWindow keeps the rows inside w, drops those already stored and
// upserts the rest. Counts are recorded in result when it is non-nil.
func UpsertLastWindow(ctx context.Context, store Store, stationID string, rows []types.Observation, w window.Window, result *types.StationResult) (int, error) {
	inWindow := w.Select(rows)
	if result != nil {
		result.InWindow = len(inWindow)
	}
	if len(inWindow) == 0 {
		return 0, nil
	}

	fresh, err := DropExisting(ctx, store, stationID, inWindow)
	if err != nil {
		return 0, stageErr(StageStore, err)
	}
	if result != nil {
		result.New = len(fresh)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	for i := range fresh {
		fresh[i].StationID = stationID
	}
	n, err := store.UpsertObservations(ctx, fresh)
	if err != nil {
		return 0, stageErr(StageStore, err)
	}
	return n, nil
}

// DropExisting removes rows whose timestamp is already stored for stationID.
// An empty input is returned as is without querying the store.
func DropExisting(ctx context.Context, store ExistingLookup, stationID string, rows []types.Observation) ([]types.Observation, error) {
	if len(rows) == 0 {
		return rows, nil
	}

	lo, hi := rows[0].TimeUTC, rows[0].TimeUTC
	for _, r := range rows[1:] {
		if r.TimeUTC.Before(lo) {
			lo = r.TimeUTC
		}
		if r.TimeUTC.After(hi) {
			hi = r.TimeUTC
		}
	}

	existing, err := store.ExistingTimestamps(ctx, stationID, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("existing timestamps: %w", err)
	}
	if len(existing) == 0 {
		return rows, nil
	}

	seen := make(map[int64]struct{}, len(existing))
	for _, t := range existing {
		seen[t.Unix()] = struct{}{}
	}
	out := make([]types.Observation, 0, len(rows))
	for _, r := range rows {
		if _, ok := seen[r.TimeUTC.Unix()]; !ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Latest returns the summary of the most recent completed run.
func (s *Service) Latest() (types.RunSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return types.RunSummary{}, false
	}
	return *s.latest, true
}

func (s *Service) resetStore(logger *slog.Logger) {
	if s.reconnector == nil {
		return
	}
	if err := s.reconnector.Reset(); err != nil {
		logger.Error("db reset failed", "error", err)
	}
}

func (s *Service) publishStation(ctx context.Context, logger *slog.Logger, result types.StationResult) {
	if s.reporter == nil {
		return
	}
	if err := s.reporter.PublishStation(ctx, result); err != nil {
		logger.Warn("publish station result failed", "station_id", result.StationID, "error", err)
	}
}
