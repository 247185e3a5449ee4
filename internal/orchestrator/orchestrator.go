package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ipsix/scamshield/internal/logging"
	"github.com/ipsix/scamshield/internal/metrics"
	"github.com/ipsix/scamshield/internal/results"
	"github.com/ipsix/scamshield/internal/risk"
	"github.com/ipsix/scamshield/internal/settings"
)

const (
	DefaultEvaluateTimeout = 5 * time.Second
	DefaultGraceDelay      = 1500 * time.Millisecond
	DefaultMaxTabs         = 1024
)

var ErrNoURL = errors.New("url is required")

type Evaluator interface {
	Evaluate(ctx context.Context, url string) (risk.ScanResult, error)
}

type Presenter interface {
	Scanning(tabID int)
	Reset(tabID int)
	Reflect(tabID int, score int)
	Warn(tabID int, url string, result risk.ScanResult)
}

type Notifier interface {
	ScanComplete(tabID int, url, scanID string, result risk.ScanResult) error
}

// Alerter receives every settled record. It is called outside any tab lock
// and may block.
type Alerter interface {
	Observe(record risk.TabScanRecord)
}

type Recorder interface {
	ObserveScan(outcome string)
}

type Options struct {
	EvaluateTimeout time.Duration
	GraceDelay      time.Duration
	Notifier        Notifier
	Alerter         Alerter
	Recorder        Recorder
	Logger          *logging.Logger
	// MaxTabs bounds the tab table. Idle tabs beyond it are forgotten
	// least recently used first.
	MaxTabs int
}

// Orchestrator owns the per-tab scan lifecycle. Tabs never wait on each
// other; triggers for the same tab are ordered by a generation counter and a
// completion that is no longer current is discarded.
type Orchestrator struct {
	store     *results.Store
	settings  *settings.Settings
	evaluator Evaluator
	presenter Presenter
	notifier  Notifier
	alerter   Alerter
	recorder  Recorder
	logger    *logging.Logger
	timeout   time.Duration
	grace     time.Duration
	maxTabs   int

	mu   sync.Mutex
	tabs map[int]*tab
	wg   sync.WaitGroup
}

type tab struct {
	mu    sync.Mutex
	gen   uint64
	state TabState

	// Guarded by Orchestrator.mu. A tab with scans in flight is never
	// dropped from the table, so its generation keeps counting.
	inflight int
	closed   bool
	touched  time.Time
}

func New(store *results.Store, s *settings.Settings, evaluator Evaluator, presenter Presenter, opts Options) *Orchestrator {
	if opts.EvaluateTimeout <= 0 {
		opts.EvaluateTimeout = DefaultEvaluateTimeout
	}
	if opts.GraceDelay < 0 {
		opts.GraceDelay = 0
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.MaxTabs <= 0 {
		opts.MaxTabs = DefaultMaxTabs
	}
	return &Orchestrator{
		store:     store,
		settings:  s,
		evaluator: evaluator,
		presenter: presenter,
		notifier:  opts.Notifier,
		alerter:   opts.Alerter,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
		timeout:   opts.EvaluateTimeout,
		grace:     opts.GraceDelay,
		maxTabs:   opts.MaxTabs,
		tabs:      make(map[int]*tab),
	}
}

// NavigationComplete starts a scan unless the URL is browser-internal or
// automatic scanning is off. It reports whether a scan was started.
func (o *Orchestrator) NavigationComplete(tabID int, url string) (string, bool) {
	if IsInternal(url) || !o.settings.AutoScan() {
		return "", false
	}
	return o.start(tabID, url, "navigation"), true
}

// TabActivated always rescans when automatic scanning is on; freshness is not
// consulted.
func (o *Orchestrator) TabActivated(tabID int, url string) (string, bool) {
	if IsInternal(url) || !o.settings.AutoScan() {
		return "", false
	}
	return o.start(tabID, url, "activation"), true
}

// ScanURL is the explicit rescan request. It ignores the autoScan flag.
func (o *Orchestrator) ScanURL(url string, tabID int) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", ErrNoURL
	}
	return o.start(tabID, url, "explicit"), nil
}

// CurrentScan returns the tab's record when it is fresh. Otherwise it starts a
// scan, waits the grace delay and returns whatever record exists by then,
// which may be nil.
func (o *Orchestrator) CurrentScan(ctx context.Context, tabID int, url string) (*risk.TabScanRecord, error) {
	if record, ok := o.store.Fresh(tabID); ok {
		return &record, nil
	}
	if strings.TrimSpace(url) == "" || IsInternal(url) {
		return nil, nil
	}
	o.start(tabID, url, "query")

	if o.grace > 0 {
		timer := time.NewTimer(o.grace)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	record, ok, err := o.store.Get(tabID)
	if err != nil {
		return nil, fmt.Errorf("read current scan: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &record, nil
}

// ClearCache wipes the persistent store and the in-memory history. Tab
// generations are kept so in-flight scans stay ordered.
func (o *Orchestrator) ClearCache() error {
	return o.store.Clear()
}

// TabClosed forgets a tab: its record is removed, and a scan still in flight
// for it is discarded when it completes.
func (o *Orchestrator) TabClosed(tabID int) error {
	o.mu.Lock()
	t, ok := o.tabs[tabID]
	if ok {
		if t.inflight == 0 {
			delete(o.tabs, tabID)
		} else {
			t.closed = true
		}
	}
	o.mu.Unlock()

	if ok {
		t.mu.Lock()
		t.gen++
		t.mu.Unlock()
	}
	return o.store.Invalidate(tabID)
}

func (o *Orchestrator) History() []risk.HistoryEntry {
	return o.store.History()
}

func (o *Orchestrator) State(tabID int) TabState {
	o.mu.Lock()
	t, ok := o.tabs[tabID]
	o.mu.Unlock()
	if !ok {
		return TabState{TabID: tabID, Phase: PhaseIdle}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Wait blocks until every in-flight scan has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// acquire returns the tab's entry pinned for one scan. release unpins it.
func (o *Orchestrator) acquire(tabID int) *tab {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tabs[tabID]
	if !ok {
		t = &tab{state: TabState{TabID: tabID, Phase: PhaseIdle}}
		o.tabs[tabID] = t
	}
	t.inflight++
	t.closed = false
	t.touched = time.Now()
	o.evictLocked()
	return t
}

func (o *Orchestrator) release(tabID int, t *tab) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t.inflight--
	if t.closed && t.inflight == 0 && o.tabs[tabID] == t {
		delete(o.tabs, tabID)
	}
	o.evictLocked()
}

func (o *Orchestrator) evictLocked() {
	if len(o.tabs) <= o.maxTabs {
		return
	}
	idle := make([]int, 0, len(o.tabs))
	for id, t := range o.tabs {
		if t.inflight == 0 {
			idle = append(idle, id)
		}
	}
	sort.Slice(idle, func(i, j int) bool {
		return o.tabs[idle[i]].touched.Before(o.tabs[idle[j]].touched)
	})
	for _, id := range idle {
		if len(o.tabs) <= o.maxTabs {
			return
		}
		delete(o.tabs, id)
	}
}

// start performs the synchronous part of the procedure (generation bump,
// invalidation, scanning icon) and hands evaluation to a goroutine.
func (o *Orchestrator) start(tabID int, url, trigger string) string {
	scanID := uuid.NewString()
	logger := o.logger.With(
		logging.F("scan_id", scanID),
		logging.F("tab_id", tabID),
	)

	t := o.acquire(tabID)
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.state = TabState{
		TabID:      tabID,
		Phase:      PhaseScanning,
		URL:        url,
		ScanID:     scanID,
		Generation: gen,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := o.store.Invalidate(tabID); err != nil {
		o.failLocked(t, logger, err)
		t.mu.Unlock()
		o.release(tabID, t)
		return scanID
	}
	o.presenter.Scanning(tabID)
	t.mu.Unlock()

	logger.Debug("scan started", logging.F("trigger", trigger), logging.F("url", url))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release(tabID, t)
		o.run(t, gen, tabID, url, scanID, logger)
	}()
	return scanID
}

func (o *Orchestrator) run(t *tab, gen uint64, tabID int, url, scanID string, logger *logging.Logger) {
	result, err := o.evaluate(url, logger)

	record, settled := o.settle(t, gen, tabID, url, scanID, result, err, logger)
	if !settled {
		return
	}
	o.observe(metrics.OutcomeSettled)
	logger.Info("scan settled",
		logging.F("url", url),
		logging.F("score", result.Score),
		logging.F("risk_level", result.RiskLevel),
		logging.F("source", result.Source),
	)
	if o.alerter != nil {
		o.alerter.Observe(record)
	}
}

func (o *Orchestrator) evaluate(url string, logger *logging.Logger) (result risk.ScanResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("scan panic recovered",
				logging.F("panic", r),
				logging.F("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("evaluator panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	return o.evaluator.Evaluate(ctx, url)
}

// settle applies a finished evaluation if gen is still the tab's current
// generation. It reports whether a record was written.
func (o *Orchestrator) settle(t *tab, gen uint64, tabID int, url, scanID string, result risk.ScanResult, evalErr error, logger *logging.Logger) (risk.TabScanRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen {
		o.observe(metrics.OutcomeDropped)
		logger.Debug("scan superseded, result dropped", logging.F("generation", gen))
		return risk.TabScanRecord{}, false
	}
	if evalErr != nil {
		o.failLocked(t, logger, evalErr)
		return risk.TabScanRecord{}, false
	}

	record, err := o.store.Write(tabID, url, result)
	switch {
	case errors.Is(err, results.ErrHistoryNotSaved):
		logger.Warn("scan stored without history", logging.Err(err))
	case err != nil:
		o.failLocked(t, logger, err)
		return risk.TabScanRecord{}, false
	}

	o.presenter.Reflect(tabID, result.Score)
	if result.Score >= risk.HighThreshold && o.settings.ShowWarnings() {
		o.presenter.Warn(tabID, url, result)
	}
	if o.notifier != nil {
		if err := o.notifier.ScanComplete(tabID, url, scanID, result); err != nil {
			logger.Debug("scan completion not delivered", logging.Err(err))
		}
	}
	t.state.Phase = PhaseSettled
	t.state.Result = &result
	t.state.Error = ""
	t.state.UpdatedAt = time.Now().UTC()
	return record, true
}

// failLocked resets the icon and records the failure. No result is kept and
// nothing is retried.
func (o *Orchestrator) failLocked(t *tab, logger *logging.Logger, err error) {
	o.presenter.Reset(t.state.TabID)
	t.state.Phase = PhaseErrored
	t.state.Result = nil
	t.state.Error = err.Error()
	t.state.UpdatedAt = time.Now().UTC()
	o.observe(metrics.OutcomeErrored)
	logger.Warn("scan failed",
		logging.F("url", t.state.URL),
		logging.F("status", risk.StatusOf(err)),
		logging.Err(err),
	)
}

func (o *Orchestrator) observe(outcome string) {
	if o.recorder != nil {
		o.recorder.ObserveScan(outcome)
	}
}
