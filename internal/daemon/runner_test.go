package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/ipsix/scamshield/internal/config"
	"github.com/ipsix/scamshield/internal/logging"
	"github.com/ipsix/scamshield/internal/storage"
)

func TestHandleSignalsCallsReloadOnSIGHUP(t *testing.T) {
	runner := &Runner{logger: logging.Nop()}
	sigCh := make(chan os.Signal, 1)
	var reloadCalled atomic.Bool

	done := make(chan struct{})
	go func() {
		runner.handleSignals(sigCh, func() {}, func() { reloadCalled.Store(true) })
		close(done)
	}()

	sigCh <- syscall.SIGHUP
	close(sigCh)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("handleSignals did not return after closing channel")
	}

	if !reloadCalled.Load() {
		t.Fatalf("expected reload to be called on SIGHUP")
	}
}

func TestHandleSignalsCancelsOnSIGTERM(t *testing.T) {
	runner := &Runner{logger: logging.Nop()}
	sigCh := make(chan os.Signal, 1)
	var cancelled atomic.Bool
	sigCh <- syscall.SIGTERM
	runner.handleSignals(sigCh, func() { cancelled.Store(true) }, nil)
	if !cancelled.Load() {
		t.Fatalf("expected cancel on SIGTERM")
	}
}

func TestOpenStore(t *testing.T) {
	kv, err := OpenStore(config.StorageConfig{Backend: "memory"})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	_ = kv.Close()

	kv, err = OpenStore(config.StorageConfig{Backend: "badger", DBPath: filepath.Join(t.TempDir(), "badger")})
	if err != nil {
		t.Fatalf("badger: %v", err)
	}
	if _, ok := kv.(storage.Collector); !ok {
		t.Fatalf("expected badger backend to support garbage collection")
	}
	_ = kv.Close()

	if _, err := OpenStore(config.StorageConfig{Backend: "redis"}); err == nil {
		t.Fatalf("expected unknown backend to fail")
	}
}

func riskService(t *testing.T, score string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/check-url":
			_, _ = w.Write([]byte(`{"score":` + score + `,"risk_level":"HIGH","findings":["Suspicious login form"]}`))
		case "/health":
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(serviceURL string) config.Config {
	cfg := config.Default()
	cfg.Storage.Backend = "memory"
	cfg.Service.BaseURL = serviceURL
	cfg.API.BindAddr = "127.0.0.1:0"
	return cfg
}

func TestRunnerScansEndToEnd(t *testing.T) {
	srv := riskService(t, "85")
	cfg := testConfig(srv.URL)
	runner := New(cfg, logging.Nop(), "")
	if err := runner.Build(); err != nil {
		t.Fatalf("build: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scan", strings.NewReader(`{"tabId":1,"url":"https://login.example"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	runner.API().Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("scan: %d %s", rr.Code, rr.Body.String())
	}
	runner.Orchestrator().Wait()

	rr = httptest.NewRecorder()
	runner.API().Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ui/", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "ScamShield") {
		t.Fatalf("dashboard: %d", rr.Code)
	}

	history := runner.Orchestrator().History()
	if len(history) != 1 || history[0].Score != 85 {
		t.Fatalf("unexpected history %+v", history)
	}
	if err := runner.shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	srv := riskService(t, "10")
	runner := New(testConfig(srv.URL), logging.Nop(), "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}

func TestReloadAppliesScanFlags(t *testing.T) {
	srv := riskService(t, "10")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	base := "storage:\n  backend: memory\nservice:\n  base_url: " + srv.URL + "\napi:\n  enabled: false\n"
	write(base)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	runner := New(cfg, logging.Nop(), path)
	if err := runner.Build(); err != nil {
		t.Fatalf("build: %v", err)
	}
	defer func() { _ = runner.shutdown(time.Second) }()
	if !runner.Settings().AutoScan() {
		t.Fatalf("expected autoScan default on")
	}

	write(base + "scan:\n  auto_scan: false\n")
	runner.Reload()
	if runner.Settings().AutoScan() {
		t.Fatalf("expected reload to turn autoScan off")
	}

	write("scan: [not valid")
	runner.Reload()
	if runner.Settings().AutoScan() {
		t.Fatalf("a broken config must leave flags untouched")
	}
}

func TestConfigWatcherFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	fired := make(chan struct{}, 1)
	watcher := NewConfigWatcher(path, 20*time.Millisecond, logging.Nop(), func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Run(ctx) }()

	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-fired:
			return
		case <-tick.C:
			_ = os.WriteFile(path, []byte(`{"scan":{}}`), 0o600)
		case <-deadline:
			t.Fatalf("watcher did not fire")
		}
	}
}
