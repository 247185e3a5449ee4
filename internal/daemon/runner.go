package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ipsix/scamshield/internal/alerting"
	"github.com/ipsix/scamshield/internal/api"
	"github.com/ipsix/scamshield/internal/config"
	"github.com/ipsix/scamshield/internal/evaluator"
	"github.com/ipsix/scamshield/internal/events"
	"github.com/ipsix/scamshield/internal/heuristic"
	"github.com/ipsix/scamshield/internal/logging"
	"github.com/ipsix/scamshield/internal/metrics"
	"github.com/ipsix/scamshield/internal/orchestrator"
	"github.com/ipsix/scamshield/internal/presentation"
	"github.com/ipsix/scamshield/internal/results"
	"github.com/ipsix/scamshield/internal/scheduler"
	"github.com/ipsix/scamshield/internal/settings"
	"github.com/ipsix/scamshield/internal/storage"
	"github.com/ipsix/scamshield/internal/webui"
)

// Runner wires every component from one config and owns their lifecycle.
type Runner struct {
	cfg        config.Config
	configPath string
	logger     *logging.Logger

	kv       storage.Store
	settings *settings.Settings
	results  *results.Store
	broker   *events.Broker
	metrics  *metrics.Metrics
	eval     *evaluator.Evaluator
	orch     *orchestrator.Orchestrator
	alerts   *alerting.Engine
	sched    *scheduler.Scheduler
	api      *api.Server

	reloadMu sync.Mutex
	built    bool
}

func New(cfg config.Config, logger *logging.Logger, configPath string) *Runner {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Runner{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
	}
}

// OpenStore opens the configured backend.
func OpenStore(cfg config.StorageConfig) (storage.Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "badger", "":
		store, err := storage.NewBadgerStoreWithKey(cfg.DBPath, cfg.EncryptionKeyBase64)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Build opens storage and constructs the component graph. Run calls it when
// it has not been called yet.
func (r *Runner) Build() error {
	if r.built {
		return nil
	}
	kv, err := OpenStore(r.cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	r.kv = kv

	r.settings, err = settings.Load(kv, r.cfg.Scan.HistoryLimit)
	if err != nil {
		_ = kv.Close()
		return err
	}
	r.applyScanFlags(r.cfg.Scan)

	r.metrics = metrics.New()
	r.broker = events.NewBroker(r.logger)
	r.results = results.NewStore(kv, r.settings, results.Options{
		Freshness: r.cfg.Scan.FreshnessWindowDuration(),
	})

	checker := heuristic.NewChecker(heuristic.DefaultRules(), heuristic.DefaultBrands())
	r.eval = evaluator.New(evaluator.NewClient(r.cfg.Service.BaseURL, nil), evaluator.Options{
		Timeout:  r.cfg.Service.TimeoutDuration(),
		Checker:  checker,
		Logger:   r.logger,
		Recorder: r.metrics,
	})

	opts := orchestrator.Options{
		EvaluateTimeout: r.cfg.Service.TimeoutDuration(),
		GraceDelay:      r.cfg.Scan.GraceDelayDuration(),
		Notifier:        r.broker,
		Recorder:        r.metrics,
		Logger:          r.logger,
	}
	if r.cfg.Alerting.Enabled {
		r.alerts, err = alerting.NewFromConfig(r.cfg.Alerting, r.logger)
		if err != nil {
			_ = kv.Close()
			return fmt.Errorf("build alerting: %w", err)
		}
		opts.Alerter = r.alerts
	}
	bridge := presentation.NewBridge(r.broker, r.logger, r.metrics)
	r.orch = orchestrator.New(r.results, r.settings, r.eval, bridge, opts)

	r.sched = scheduler.New(r.logger, r.metrics)
	if err := r.addMaintenanceJobs(); err != nil {
		_ = kv.Close()
		return err
	}

	deps := api.Deps{
		Scans:    r.orch,
		Settings: r.settings,
		Domains:  checker,
		Broker:   r.broker,
		Jobs:     r.sched,
		Metrics:  r.metrics.Handler(),

		StreamBuffer: r.cfg.Scan.NotifyBuffer,
	}
	if r.cfg.API.UI {
		deps.UI = webui.Handler()
	}
	r.api = api.New(r.cfg.API, r.logger, deps)
	r.built = true
	return nil
}

func (r *Runner) addMaintenanceJobs() error {
	timeout := r.cfg.Maintenance.JobTimeoutDuration()
	if schedule := r.cfg.Maintenance.PruneSchedule; schedule != "" {
		if err := r.sched.AddJob(scheduler.JobConfig{
			Name:     scheduler.JobPruneMirror,
			Schedule: schedule,
			Timeout:  timeout,
			Task:     scheduler.PruneMirrorTask(r.results, r.cfg.Storage.MirrorRetentionDuration(), r.logger),
		}); err != nil {
			return err
		}
	}
	if collector, ok := r.kv.(storage.Collector); ok && r.cfg.Maintenance.GCSchedule != "" {
		if err := r.sched.AddJob(scheduler.JobConfig{
			Name:     scheduler.JobStorageGC,
			Schedule: r.cfg.Maintenance.GCSchedule,
			Timeout:  timeout,
			Task:     scheduler.GarbageCollectTask(collector),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) Run(ctx context.Context) error {
	if err := r.Build(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer close(sigCh)
	defer signal.Stop(sigCh)
	go r.handleSignals(sigCh, cancel, r.Reload)

	r.logger.Info("daemon started",
		logging.F("service", r.cfg.Service.BaseURL),
		logging.F("storage", r.cfg.Storage.Backend),
		logging.F("api", r.cfg.API.Enabled),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.api.Start(gctx); err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	if r.configPath != "" {
		g.Go(func() error {
			watcher := NewConfigWatcher(r.configPath, 0, r.logger, r.Reload)
			if err := watcher.Run(gctx); err != nil {
				r.logger.Warn("config watcher stopped", logging.Err(err))
			}
			return nil
		})
	}
	if r.cfg.Service.HealthCheck {
		g.Go(func() error {
			r.probeService(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	r.sched.Start(gctx)

	runErr := g.Wait()
	shutdownErr := r.shutdown(r.cfg.Daemon.ShutdownTimeoutDuration())
	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

// Reload re-reads the config file and applies the scan flag overrides.
// Other sections take effect on restart.
func (r *Runner) Reload() {
	if r.configPath == "" {
		return
	}
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()
	cfg, err := config.Load(r.configPath)
	if err != nil {
		r.logger.Error("config reload failed", logging.Err(err))
		return
	}
	r.applyScanFlags(cfg.Scan)
	r.logger.Info("config reloaded", logging.F("path", r.configPath))
}

func (r *Runner) applyScanFlags(scan config.ScanConfig) {
	if r.settings == nil || (scan.AutoScan == nil && scan.ShowWarnings == nil) {
		return
	}
	snap, err := r.settings.UpdateFlags(settings.Flags{
		AutoScan:     scan.AutoScan,
		ShowWarnings: scan.ShowWarnings,
	})
	if err != nil {
		r.logger.Warn("settings not persisted", logging.Err(err))
	}
	r.logger.Info("scan flags applied",
		logging.F("auto_scan", snap.AutoScan),
		logging.F("show_warnings", snap.ShowWarnings),
	)
}

// probeService checks the risk service once. The outcome never gates scanning.
func (r *Runner) probeService(ctx context.Context) {
	status, err := r.eval.Health(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.logger.Warn("risk service health check failed", logging.F("service", r.cfg.Service.BaseURL), logging.Err(err))
		return
	}
	r.logger.Info("risk service healthy",
		logging.F("status", status.Status),
		logging.F("message", status.Message),
	)
}

func (r *Runner) handleSignals(sigCh <-chan os.Signal, cancel context.CancelFunc, reload func()) {
	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			r.logger.Info("config reload requested")
			if reload != nil {
				reload()
			}
		case syscall.SIGINT, syscall.SIGTERM:
			r.logger.Warn("shutdown signal received", logging.F("signal", sig.String()))
			cancel()
			return
		default:
			r.logger.Warn("unexpected signal received", logging.F("signal", sig.String()))
		}
	}
}

func (r *Runner) shutdown(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r.logger.Info("shutdown starting", logging.F("timeout", timeout.String()))

	r.sched.Stop()

	drained := make(chan struct{})
	go func() {
		r.orch.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(timeout):
		r.logger.Warn("in-flight scans still running at shutdown")
	}

	r.broker.Close()
	if err := r.kv.Close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}
	r.logger.Info("shutdown complete")
	return nil
}

func (r *Runner) Orchestrator() *orchestrator.Orchestrator { return r.orch }

func (r *Runner) Settings() *settings.Settings { return r.settings }

func (r *Runner) API() *api.Server { return r.api }
