package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/runningman84/zfs-monitor/pkg/api"
	"github.com/runningman84/zfs-monitor/pkg/config"
	"github.com/runningman84/zfs-monitor/pkg/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestConfig(t *testing.T, serverURL string) *config.AgentConfig {
	t.Helper()
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat command not available")
	}
	cfg := config.NewAgentConfig("test")
	cfg.Hostname = "nas01"
	cfg.ServerURL = serverURL
	cfg.TestDataDir = filepath.Join("..", "zfs", "testdata")
	cfg.LockFilePath = filepath.Join(t.TempDir(), "agent.lock")
	cfg.SetCommands()
	return cfg
}

func newTestBackend(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := store.Open(store.Options{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:agent_%s?mode=memory&cache=shared&_foreign_keys=on", name),
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	ts := httptest.NewServer(api.NewServer(s, api.Options{}).Router())
	t.Cleanup(ts.Close)
	return ts, s
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	ts, s := newTestBackend(t)
	a := NewAgent(newTestConfig(t, ts.URL))

	summary, err := a.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !summary.Created {
		t.Error("first Run() should create the host")
	}
	if summary.Host.Hostname != "nas01" || summary.Host.Status != "errored" {
		t.Errorf("host = %s (%s), want nas01 (errored)", summary.Host.Hostname, summary.Host.Status)
	}
	if summary.Pools != 2 || summary.Vdevs != 8 || summary.Datasets != 2 || summary.Snapshots != 2 {
		t.Errorf("counts = %+v, want 2 pools, 8 vdevs, 2 datasets, 2 snapshots", summary.Counts)
	}

	host, ok, err := s.GetHost(ctx, "nas01")
	if err != nil || !ok {
		t.Fatalf("GetHost() = %v, %v", ok, err)
	}
	if want := "OpenZFS zfs-2.3.3-1 (zfs-kmod-2.3.3-1)"; host.HostDescription != want {
		t.Errorf("HostDescription = %q, want %q", host.HostDescription, want)
	}

	summary, err = a.Run(ctx)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if summary.Created {
		t.Error("second Run() should update the host")
	}

	if _, err := os.Stat(a.config.LockFilePath); !os.IsNotExist(err) {
		t.Errorf("lock file still exists after Run(): %v", err)
	}
}

func TestRunRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"error":"invalid report","fields":[{"record":"pool","key":"tank","field":"cap","reason":"must be between 0 and 100"}]}`)
	}))
	defer ts.Close()

	a := NewAgent(newTestConfig(t, ts.URL))
	_, err := a.Run(context.Background())

	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Run() error = %v, want RejectedError", err)
	}
	if rejected.StatusCode != http.StatusUnprocessableEntity || rejected.Message != "invalid report" {
		t.Errorf("rejected = %d %q, want 422 %q", rejected.StatusCode, rejected.Message, "invalid report")
	}
	if len(rejected.Fields) != 1 || rejected.Fields[0].Field != "cap" {
		t.Errorf("Fields = %+v, want one cap field", rejected.Fields)
	}
	if !strings.Contains(err.Error(), "pool tank cap") {
		t.Errorf("Error() = %q, want it to name the field", err.Error())
	}
}

func TestRunServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer ts.Close()

	a := NewAgent(newTestConfig(t, ts.URL))
	_, err := a.Run(context.Background())

	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Run() error = %v, want RejectedError", err)
	}
	if rejected.Message != http.StatusText(http.StatusBadGateway) {
		t.Errorf("Message = %q, want %q", rejected.Message, http.StatusText(http.StatusBadGateway))
	}
}

func TestRunCollectFailure(t *testing.T) {
	ts, _ := newTestBackend(t)
	cfg := newTestConfig(t, ts.URL)
	cfg.ZFSListCmd = []string{"false"}

	if _, err := NewAgent(cfg).Run(context.Background()); err == nil {
		t.Error("Run() should fail when a command fails")
	}
	if _, err := os.Stat(cfg.LockFilePath); !os.IsNotExist(err) {
		t.Errorf("lock file still exists after failed Run(): %v", err)
	}
}

func TestLock(t *testing.T) {
	cfg := newTestConfig(t, "http://localhost:4567")
	a := NewAgent(cfg)

	if err := a.acquireLock(); err != nil {
		t.Fatalf("acquireLock() error = %v", err)
	}
	data, err := os.ReadFile(cfg.LockFilePath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if want := fmt.Sprintf("%d\n", os.Getpid()); string(data) != want {
		t.Errorf("lock file = %q, want %q", data, want)
	}

	if err := a.acquireLock(); err == nil {
		t.Error("second acquireLock() should fail while the lock is held")
	}
	if _, err := a.Run(context.Background()); err == nil {
		t.Error("Run() should fail while the lock is held")
	}

	a.releaseLock()
	if _, err := os.Stat(cfg.LockFilePath); !os.IsNotExist(err) {
		t.Errorf("lock file still exists after releaseLock(): %v", err)
	}
}

func TestRunWithoutLocking(t *testing.T) {
	ts, _ := newTestBackend(t)
	cfg := newTestConfig(t, ts.URL)
	cfg.EnableLocking = false
	if err := os.WriteFile(cfg.LockFilePath, []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewAgent(cfg).Run(context.Background()); err != nil {
		t.Errorf("Run() with locking disabled error = %v", err)
	}
}
