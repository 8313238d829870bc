package registry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meteo-ingest/internal/modules/wind/types"
)

type fakeWriter struct {
	got []types.Station
	err error
}

func (f *fakeWriter) UpsertStations(_ context.Context, stations []types.Station) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.got = append(f.got, stations...)
	return len(stations), nil
}

func TestRead(t *testing.T) {
	in := "station_id;local_tz\nber;Europe/Zurich\n LUG ;\nSMA;Europe/Zurich\n"

	stations, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []types.Station{
		{ID: "BER", Timezone: "Europe/Zurich"},
		{ID: "LUG"},
		{ID: "SMA", Timezone: "Europe/Zurich"},
	}, stations)
}

func TestRead_ColumnOrderFromHeader(t *testing.T) {
	in := "local_tz;station_id\nEurope/Rome;lug\n"

	stations, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []types.Station{{ID: "LUG", Timezone: "Europe/Rome"}}, stations)
}

func TestRead_BlankID(t *testing.T) {
	in := "station_id;local_tz\nBER;Europe/Zurich\n;Europe/Zurich\n"

	_, err := Read(strings.NewReader(in))
	require.ErrorIs(t, err, ErrBlankStationID)
	assert.Contains(t, err.Error(), "line 3")
}

func TestRead_InvalidZone(t *testing.T) {
	in := "station_id;local_tz\nBER;Mars/Olympus\n"

	_, err := Read(strings.NewReader(in))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Mars/Olympus")
}

func TestImporter_Import(t *testing.T) {
	w := &fakeWriter{}
	n, err := NewImporter(w, nil).Import(context.Background(), strings.NewReader("station_id;local_tz\nber;\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []types.Station{{ID: "BER"}}, w.got)
}

func TestImporter_InvalidFileWritesNothing(t *testing.T) {
	w := &fakeWriter{}
	_, err := NewImporter(w, nil).Import(context.Background(), strings.NewReader("station_id;local_tz\nBER;\n;\n"))
	require.Error(t, err)
	assert.Empty(t, w.got)
}

func TestImporter_StoreError(t *testing.T) {
	w := &fakeWriter{err: errors.New("disk full")}
	_, err := NewImporter(w, nil).Import(context.Background(), strings.NewReader("station_id;local_tz\nBER;\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
