// Package source fetches recent station exports over HTTP.
package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/text/encoding/charmap"

	"meteo-ingest/internal/config"
	"meteo-ingest/internal/modules/wind/types"
)

var (
	ErrStatus = errors.New("unexpected status")
	ErrParse  = errors.New("malformed export")
)

const (
	acceptHeader   = "text/csv,*/*;q=0.1"
	maxBodyExcerpt = 200
	// tripAfter consecutive transport or 5xx failures opens the breaker.
	tripAfter = 3
)

// StatusError carries the HTTP status of a non-2xx export response.
type StatusError struct {
	StatusCode int
	Excerpt    string
}

func (e *StatusError) Error() string {
	if e.Excerpt == "" {
		return fmt.Sprintf("%s %d", ErrStatus, e.StatusCode)
	}
	return fmt.Sprintf("%s %d: %s", ErrStatus, e.StatusCode, e.Excerpt)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// Client overrides the default client built from Timeout.
	Client *http.Client
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		BaseURL:   cfg.SourceBaseURL,
		UserAgent: cfg.SourceUserAgent,
		Timeout:   cfg.SourceTimeout,
	}
}

type Client struct {
	opts    Options
	http    *http.Client
	circuit *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewClient(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := opts.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = time.Minute
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	c := &Client{opts: opts, http: httpClient, logger: logger}
	c.circuit = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "export-source",
		Timeout: opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// isSuccessful treats client errors as healthy upstream responses.
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode < http.StatusInternalServerError
	}
	return false
}

// URL returns the export location for stationID.
func (c *Client) URL(stationID string) string {
	st := strings.ToLower(strings.TrimSpace(stationID))
	return fmt.Sprintf("%s/%s/ogd-smn_%s_t_recent.csv", c.opts.BaseURL, st, st)
}

// Fetch downloads and parses the recent export for stationID.
func (c *Client) Fetch(ctx context.Context, stationID string) (types.Table, error) {
	body, err := c.download(ctx, stationID)
	if err != nil {
		return types.Table{}, err
	}
	return Parse(bytes.NewReader(body))
}

func (c *Client) download(ctx context.Context, stationID string) ([]byte, error) {
	url := c.URL(stationID)
	result, err := c.circuit.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)
		req.Header.Set("Accept", acceptHeader)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyExcerpt))
			return nil, &StatusError{StatusCode: resp.StatusCode, Excerpt: strings.TrimSpace(string(excerpt))}
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}

	body, ok := result.([]byte)
	if !ok {
		return nil, fmt.Errorf("fetch %s: unexpected result type %T", url, result)
	}
	c.logger.Debug("export downloaded", "station_id", stationID, "bytes", len(body))
	return body, nil
}

// Parse decodes a Windows-1252, semicolon-separated export. The first record
// is the header. Records may have fewer or more fields than the header.
func Parse(r io.Reader) (types.Table, error) {
	cr := csv.NewReader(charmap.Windows1252.NewDecoder().Reader(r))
	cr.Comma = ';'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return types.Table{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if len(records) == 0 {
		return types.Table{}, nil
	}
	return types.Table{Header: records[0], Records: records[1:]}, nil
}
