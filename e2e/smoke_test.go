//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	tc "github.com/testcontainers/testcontainers-go"
	tcexec "github.com/testcontainers/testcontainers-go/exec"
	"github.com/testcontainers/testcontainers-go/wait"
)

const repoRootRel = ".." // relative to ./e2e

const exportSlots = 18

func TestSmoke_IngestFromExport(t *testing.T) {
	repoRoot := repoRootPath(t)
	sqlite, dbPath := startSQLite(t)

	ingestBin := buildBinary(t, repoRoot, "./cmd/ingest", "meteo-ingest")
	migrateBin := buildBinary(t, repoRoot, "./cmd/migrate", "meteo-migrate")

	export := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ber/ogd-smn_ber_t_recent.csv" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=windows-1252")
		_, _ = io.WriteString(w, recentExport("BER", exportSlots))
	}))
	t.Cleanup(export.Close)

	addr := pickFreeAddr(t)
	env := append(os.Environ(),
		"APP_ENV=dev",
		"LOG_LEVEL=info",
		"HTTP_ADDR="+addr,
		"DB_DRIVER=sqlite3",
		"SQLITE_PATH="+dbPath,
		"SOURCE_BASE_URL="+export.URL,
		"SCHEDULE=@every 1h",
	)

	stations := filepath.Join(t.TempDir(), "stations.csv")
	if err := os.WriteFile(stations, []byte("station_id;local_tz\nber;Europe/Zurich\n"), 0o600); err != nil {
		t.Fatalf("write stations: %v", err)
	}
	imp := exec.Command(migrateBin, "import-stations", stations)
	imp.Env = env
	if out, err := imp.CombinedOutput(); err != nil {
		t.Fatalf("import-stations: %v\n%s", err, out)
	}

	cmd := exec.Command(ingestBin)
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("start ingest: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
	})

	client := &http.Client{Timeout: 2 * time.Second}
	waitForOK(t, client, "http://"+addr+"/healthz", 10*time.Second)
	waitForOK(t, client, "http://"+addr+"/api/v1/runs/latest", 20*time.Second)

	resp, err := client.Get("http://" + addr + "/api/v1/runs/latest")
	if err != nil {
		t.Fatalf("GET runs/latest: %v", err)
	}
	var summary struct {
		TotalUpserted int `json:"totalUpserted"`
		Failed        int `json:"failed"`
	}
	err = json.NewDecoder(resp.Body).Decode(&summary)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.TotalUpserted != exportSlots || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want %d upserted and no failures", summary, exportSlots)
	}

	stopServer(t, cmd)

	if got := countRows(t, sqlite); got != exportSlots {
		t.Fatalf("meteo_obs rows = %d, want %d", got, exportSlots)
	}
}

func recentExport(stationID string, slots int) string {
	end := time.Now().UTC().Truncate(10 * time.Minute)
	var b strings.Builder
	b.WriteString("station_abbr;reference_timestamp;tre200s0;fve010z0;dkl010z0\r\n")
	for i := slots - 1; i >= 0; i-- {
		ts := end.Add(-time.Duration(i) * 10 * time.Minute)
		fmt.Fprintf(&b, "%s;%s;11.3;4.1;225\r\n", stationID, ts.Format("02.01.2006 15:04"))
	}
	return b.String()
}

func startSQLite(t *testing.T) (tc.Container, string) {
	t.Helper()

	hostDir := t.TempDir()
	dbPath := filepath.Join(hostDir, "meteo.db")

	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:      "nouchka/sqlite3:latest",
		WorkingDir: "/data",
		Entrypoint: []string{"sh", "-c"},
		Cmd: []string{
			"sqlite3 /data/meteo.db \"PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;\" && " +
				"echo 'sqlite ready' && " +
				"tail -f /dev/null",
		},
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.Binds = append(hc.Binds, hostDir+":/data")
		},
		WaitingFor: wait.ForLog("sqlite ready").WithStartupTimeout(30 * time.Second),
	}

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start sqlite container: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Terminate(ctx)
	})

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("sqlite db file not created: %v", err)
	}
	return c, dbPath
}

// countRows reads the table through the container's sqlite3 CLI, independent
// of the drivers compiled into the binaries.
func countRows(t *testing.T, c tc.Container) int {
	t.Helper()

	code, out, err := c.Exec(context.Background(),
		[]string{"sqlite3", "/data/meteo.db", "SELECT COUNT(*) FROM meteo_obs;"},
		tcexec.Multiplexed(),
	)
	if err != nil {
		t.Fatalf("exec sqlite3: %v", err)
	}
	b, err := io.ReadAll(out)
	if err != nil {
		t.Fatalf("read exec output: %v", err)
	}
	if code != 0 {
		t.Fatalf("sqlite3 exit %d: %s", code, b)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		t.Fatalf("parse count %q: %v", b, err)
	}
	return n
}

func repoRootPath(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}

	repo := filepath.Clean(filepath.Join(wd, repoRootRel))
	if _, err := os.Stat(filepath.Join(repo, "go.mod")); err != nil {
		t.Fatalf("repo root %q does not contain go.mod: %v", repo, err)
	}
	return repo
}

func buildBinary(t *testing.T, repoRoot, pkg, name string) string {
	t.Helper()

	out := filepath.Join(t.TempDir(), name)
	build := exec.Command("go", "build", "-o", out, pkg)
	build.Dir = repoRoot
	build.Env = os.Environ()

	if b, err := build.CombinedOutput(); err != nil {
		t.Fatalf("go build %s failed: %v\n%s", pkg, err, string(b))
	}
	return out
}

func pickFreeAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen :0: %v", err)
	}
	defer ln.Close()

	return ln.Addr().String()
}

func waitForOK(t *testing.T, client *http.Client, url string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("no 200 from %s after %s", url, timeout)
}

func stopServer(t *testing.T, cmd *exec.Cmd) {
	t.Helper()

	_ = cmd.Process.Signal(syscall.SIGTERM)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		t.Fatalf("ingest did not exit in time")
	case err := <-done:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				t.Fatalf("ingest exited non-zero: %v", err)
			}
			t.Fatalf("ingest wait error: %v", err)
		}
	}
}
