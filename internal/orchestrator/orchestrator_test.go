package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipsix/scamshield/internal/metrics"
	"github.com/ipsix/scamshield/internal/results"
	"github.com/ipsix/scamshield/internal/risk"
	"github.com/ipsix/scamshield/internal/settings"
	"github.com/ipsix/scamshield/internal/storage"
)

type fakeEvaluator struct {
	mu      sync.Mutex
	calls   int
	results map[string]risk.ScanResult
	errs    map[string]error
	gates   map[string]chan struct{}
	panicOn string
}

func newFakeEvaluator() *fakeEvaluator {
	return &fakeEvaluator{
		results: map[string]risk.ScanResult{},
		errs:    map[string]error{},
		gates:   map[string]chan struct{}{},
	}
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, url string) (risk.ScanResult, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gates[url]
	res, ok := f.results[url]
	err := f.errs[url]
	panicOn := f.panicOn
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return risk.ScanResult{}, risk.ErrUnreachable
		}
	}
	if url == panicOn {
		panic("boom")
	}
	if err != nil {
		return risk.ScanResult{}, err
	}
	if !ok {
		res = risk.NewResult(10, []string{"ok"}, risk.SourceService)
	}
	return res, nil
}

func (f *fakeEvaluator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePresenter struct {
	mu    sync.Mutex
	calls []string
}

func (p *fakePresenter) record(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, s)
}

func (p *fakePresenter) Scanning(tabID int) { p.record(fmt.Sprintf("scanning:%d", tabID)) }
func (p *fakePresenter) Reset(tabID int) { p.record(fmt.Sprintf("reset:%d", tabID)) }
func (p *fakePresenter) Reflect(tabID int, score int) { p.record(fmt.Sprintf("reflect:%d:%d", tabID, score)) }
func (p *fakePresenter) Warn(tabID int, url string, _ risk.ScanResult) {
	p.record(fmt.Sprintf("warn:%d:%s", tabID, url))
}

func (p *fakePresenter) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.calls...)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) ScanComplete(tabID int, url, scanID string, result risk.ScanResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, fmt.Sprintf("%d:%s:%d", tabID, url, result.Score))
	return nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *fakeRecorder) ObserveScan(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[outcome]++
}

func (r *fakeRecorder) Count(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[outcome]
}

type fakeAlerter struct {
	mu      sync.Mutex
	records []risk.TabScanRecord
}

func (a *fakeAlerter) Observe(record risk.TabScanRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, record)
}

type harness struct {
	orch      *Orchestrator
	store     *results.Store
	settings  *settings.Settings
	evaluator *fakeEvaluator
	presenter *fakePresenter
	notifier  *fakeNotifier
	recorder  *fakeRecorder
	alerter   *fakeAlerter
}

func newHarness(t *testing.T, grace time.Duration) *harness {
	t.Helper()
	return newHarnessWith(t, Options{GraceDelay: grace})
}

func newHarnessWith(t *testing.T, opts Options) *harness {
	t.Helper()
	kv := storage.NewMemoryStore()
	s, err := settings.Load(kv, settings.DefaultHistoryLimit)
	require.NoError(t, err)
	h := &harness{
		store:     results.NewStore(kv, s, results.Options{}),
		settings:  s,
		evaluator: newFakeEvaluator(),
		presenter: &fakePresenter{},
		notifier:  &fakeNotifier{},
		recorder:  &fakeRecorder{},
		alerter:   &fakeAlerter{},
	}
	opts.Notifier = h.notifier
	opts.Recorder = h.recorder
	opts.Alerter = h.alerter
	h.orch = New(h.store, s, h.evaluator, h.presenter, opts)
	t.Cleanup(h.orch.Wait)
	return h
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNavigationCompleteSettles(t *testing.T) {
	h := newHarness(t, 0)
	h.evaluator.results["https://shop.example"] = risk.NewResult(55, []string{"young domain"}, risk.SourceService)

	scanID, started := h.orch.NavigationComplete(4, "https://shop.example")
	require.True(t, started)
	require.NotEmpty(t, scanID)
	h.orch.Wait()

	rec, ok, err := h.store.Get(4)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 55, rec.Result.Score)
	assert.Equal(t, []string{"scanning:4", "reflect:4:55"}, h.presenter.Calls())
	assert.Equal(t, []string{"4:https://shop.example:55"}, h.notifier.events)

	state := h.orch.State(4)
	assert.Equal(t, PhaseSettled, state.Phase)
	assert.Equal(t, scanID, state.ScanID)
	assert.Equal(t, 1, h.recorder.Count(metrics.OutcomeSettled))
	assert.Len(t, h.alerter.records, 1)
}

func TestNavigationIgnoresInternalAndDisabled(t *testing.T) {
	h := newHarness(t, 0)

	for _, url := range []string{"chrome://settings", "about:blank", "chrome-extension://abc/popup.html", "edge://flags", ""} {
		_, started := h.orch.NavigationComplete(1, url)
		assert.False(t, started, url)
	}

	off := false
	_, err := h.settings.UpdateFlags(settings.Flags{AutoScan: &off})
	require.NoError(t, err)
	_, started := h.orch.NavigationComplete(1, "https://a.example")
	assert.False(t, started)
	_, started = h.orch.TabActivated(1, "https://a.example")
	assert.False(t, started)

	h.orch.Wait()
	assert.Equal(t, 0, h.evaluator.Calls())
	assert.Equal(t, PhaseIdle, h.orch.State(1).Phase)
}

func TestScanURLIgnoresAutoScan(t *testing.T) {
	h := newHarness(t, 0)
	off := false
	_, _ = h.settings.UpdateFlags(settings.Flags{AutoScan: &off})

	_, err := h.orch.ScanURL("https://a.example", 2)
	require.NoError(t, err)
	h.orch.Wait()
	assert.Equal(t, 1, h.evaluator.Calls())

	_, err = h.orch.ScanURL("  ", 2)
	assert.True(t, errors.Is(err, ErrNoURL))
}

func TestBannerOnlyWhenHighAndWarningsOn(t *testing.T) {
	h := newHarness(t, 0)
	h.evaluator.results["https://paypa1.com"] = risk.NewResult(70, nil, risk.SourceService)
	h.evaluator.results["https://medium.example"] = risk.NewResult(69, nil, risk.SourceService)

	h.orch.NavigationComplete(1, "https://paypa1.com")
	h.orch.NavigationComplete(2, "https://medium.example")
	h.orch.Wait()
	assert.Contains(t, h.presenter.Calls(), "warn:1:https://paypa1.com")
	assert.NotContains(t, h.presenter.Calls(), "warn:2:https://medium.example")

	off := false
	_, _ = h.settings.UpdateFlags(settings.Flags{ShowWarnings: &off})
	h.presenter.calls = nil
	h.orch.NavigationComplete(1, "https://paypa1.com")
	h.orch.Wait()
	assert.NotContains(t, h.presenter.Calls(), "warn:1:https://paypa1.com")
	assert.Contains(t, h.presenter.Calls(), "reflect:1:70")
}

func TestFailureResetsIconAndLeavesNoRecord(t *testing.T) {
	h := newHarness(t, 0)
	h.evaluator.errs["https://down.example"] = &risk.ServiceError{Status: 502}

	h.orch.NavigationComplete(3, "https://down.example")
	h.orch.Wait()

	_, ok, _ := h.store.Get(3)
	assert.False(t, ok)
	assert.Equal(t, []string{"scanning:3", "reset:3"}, h.presenter.Calls())
	assert.Empty(t, h.notifier.events)
	assert.Empty(t, h.orch.History())
	state := h.orch.State(3)
	assert.Equal(t, PhaseErrored, state.Phase)
	assert.Contains(t, state.Error, "502")
	assert.Equal(t, 1, h.evaluator.Calls(), "failed scans are not retried")
}

func TestEvaluatorPanicIsContained(t *testing.T) {
	h := newHarness(t, 0)
	h.evaluator.panicOn = "https://boom.example"

	h.orch.NavigationComplete(1, "https://boom.example")
	h.orch.Wait()

	assert.Equal(t, PhaseErrored, h.orch.State(1).Phase)
	assert.Contains(t, h.presenter.Calls(), "reset:1")
}

func TestInvalidateBeforeWriteWithHangingService(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.store.Write(1, "https://old.example", risk.NewResult(5, nil, risk.SourceService))
	require.NoError(t, err)

	gate := make(chan struct{})
	h.evaluator.gates["https://new.example"] = gate
	h.orch.NavigationComplete(1, "https://new.example")

	_, ok, _ := h.store.Get(1)
	assert.False(t, ok, "stale record must be gone while the scan is in flight")
	_, fresh := h.store.Fresh(1)
	assert.False(t, fresh)
	assert.Equal(t, PhaseScanning, h.orch.State(1).Phase)

	close(gate)
	h.orch.Wait()
	rec, ok, _ := h.store.Get(1)
	require.True(t, ok)
	assert.Equal(t, "https://new.example", rec.URL)
}

func TestSupersededScanIsDropped(t *testing.T) {
	h := newHarness(t, 0)
	gate := make(chan struct{})
	h.evaluator.gates["https://first.example"] = gate
	h.evaluator.results["https://first.example"] = risk.NewResult(90, nil, risk.SourceService)
	h.evaluator.results["https://second.example"] = risk.NewResult(20, nil, risk.SourceService)

	h.orch.NavigationComplete(1, "https://first.example")
	h.orch.NavigationComplete(1, "https://second.example")
	waitFor(t, func() bool { return h.orch.State(1).Phase == PhaseSettled })

	close(gate)
	h.orch.Wait()

	rec, ok, _ := h.store.Get(1)
	require.True(t, ok)
	assert.Equal(t, "https://second.example", rec.URL)
	assert.Equal(t, 1, h.recorder.Count(metrics.OutcomeDropped))
	assert.NotContains(t, h.presenter.Calls(), "reflect:1:90")
	assert.Len(t, h.orch.History(), 1)
}

func TestTabsDoNotBlockEachOther(t *testing.T) {
	h := newHarness(t, 0)
	gate := make(chan struct{})
	h.evaluator.gates["https://slow.example"] = gate

	h.orch.NavigationComplete(1, "https://slow.example")
	h.orch.NavigationComplete(2, "https://fast.example")
	waitFor(t, func() bool { return h.orch.State(2).Phase == PhaseSettled })
	assert.Equal(t, PhaseScanning, h.orch.State(1).Phase)
	close(gate)
}

func TestCurrentScanReturnsFreshRecord(t *testing.T) {
	h := newHarness(t, time.Second)
	_, err := h.store.Write(5, "https://a.example", risk.NewResult(30, nil, risk.SourceService))
	require.NoError(t, err)

	start := time.Now()
	rec, err := h.orch.CurrentScan(context.Background(), 5, "https://a.example")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 30, rec.Result.Score)
	assert.Equal(t, 0, h.evaluator.Calls())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestCurrentScanStartsScanAndWaitsGrace(t *testing.T) {
	h := newHarness(t, 200*time.Millisecond)
	h.evaluator.results["https://b.example"] = risk.NewResult(44, nil, risk.SourceService)

	rec, err := h.orch.CurrentScan(context.Background(), 6, "https://b.example")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 44, rec.Result.Score)
	assert.Equal(t, risk.LevelMedium, rec.Result.RiskLevel)
}

func TestCurrentScanMayReturnNothing(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	gate := make(chan struct{})
	defer close(gate)
	h.evaluator.gates["https://slow.example"] = gate

	rec, err := h.orch.CurrentScan(context.Background(), 7, "https://slow.example")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestHangingServiceTimesOutWithoutRecord(t *testing.T) {
	h := newHarnessWith(t, Options{EvaluateTimeout: 50 * time.Millisecond})
	gate := make(chan struct{})
	defer close(gate)
	h.evaluator.gates["https://hang.example"] = gate

	_, started := h.orch.NavigationComplete(1, "https://hang.example")
	require.True(t, started)
	h.orch.Wait()

	_, ok, err := h.store.Get(1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, PhaseErrored, h.orch.State(1).Phase)
	assert.Equal(t, []string{"scanning:1", "reset:1"}, h.presenter.Calls())
	assert.Equal(t, 1, h.recorder.Count(metrics.OutcomeErrored))
	assert.Empty(t, h.notifier.events)

	rec, err := h.orch.CurrentScan(context.Background(), 1, "https://hang.example")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestTabClosedForgetsTab(t *testing.T) {
	h := newHarness(t, 0)
	h.orch.NavigationComplete(1, "https://a.example")
	h.orch.Wait()
	require.Equal(t, PhaseSettled, h.orch.State(1).Phase)

	require.NoError(t, h.orch.TabClosed(1))
	assert.Equal(t, PhaseIdle, h.orch.State(1).Phase)
	_, ok, _ := h.store.Get(1)
	assert.False(t, ok)
	assert.Empty(t, h.orch.tabs)
	assert.Len(t, h.orch.History(), 1, "history outlives the tab")

	require.NoError(t, h.orch.TabClosed(99))
}

func TestTabClosedDiscardsInflightScan(t *testing.T) {
	h := newHarness(t, 0)
	gate := make(chan struct{})
	h.evaluator.gates["https://slow.example"] = gate

	h.orch.NavigationComplete(3, "https://slow.example")
	require.NoError(t, h.orch.TabClosed(3))
	close(gate)
	h.orch.Wait()

	_, ok, _ := h.store.Get(3)
	assert.False(t, ok)
	assert.Empty(t, h.notifier.events)
	assert.Empty(t, h.orch.tabs)
}

func TestTabTableIsBounded(t *testing.T) {
	h := newHarnessWith(t, Options{MaxTabs: 2})
	gate := make(chan struct{})
	h.evaluator.gates["https://slow.example"] = gate

	h.orch.NavigationComplete(1, "https://slow.example")
	for id := 2; id <= 5; id++ {
		h.orch.NavigationComplete(id, "https://a.example")
		waitFor(t, func() bool { return h.orch.State(id).Phase == PhaseSettled })
	}
	tabs := func() (bool, int) {
		h.orch.mu.Lock()
		defer h.orch.mu.Unlock()
		_, pinned := h.orch.tabs[1]
		return pinned, len(h.orch.tabs)
	}
	waitFor(t, func() bool { _, size := tabs(); return size <= 2 })
	pinned, _ := tabs()
	assert.True(t, pinned, "a tab with a scan in flight is never evicted")
	assert.Equal(t, PhaseSettled, h.orch.State(5).Phase)

	close(gate)
	h.orch.Wait()
	assert.Equal(t, PhaseSettled, h.orch.State(1).Phase)
	_, ok, _ := h.store.Get(1)
	assert.True(t, ok)
}

func TestCurrentScanStaleForOtherTab(t *testing.T) {
	h := newHarness(t, 0)
	_, _ = h.store.Write(1, "https://a.example", risk.NewResult(30, nil, risk.SourceService))
	_, _ = h.store.Write(2, "https://b.example", risk.NewResult(30, nil, risk.SourceService))

	_, err := h.orch.CurrentScan(context.Background(), 1, "https://a.example")
	require.NoError(t, err)
	h.orch.Wait()
	assert.Equal(t, 1, h.evaluator.Calls(), "tab 1 is not the last scan and must be rescanned")
}

func TestTabActivatedAlwaysRescans(t *testing.T) {
	h := newHarness(t, 0)
	_, _ = h.store.Write(1, "https://a.example", risk.NewResult(30, nil, risk.SourceService))

	_, started := h.orch.TabActivated(1, "https://a.example")
	require.True(t, started)
	h.orch.Wait()
	assert.Equal(t, 1, h.evaluator.Calls())
}

func TestClearCacheAndHistory(t *testing.T) {
	h := newHarness(t, 0)
	h.orch.NavigationComplete(1, "https://a.example")
	h.orch.NavigationComplete(2, "https://b.example")
	h.orch.Wait()
	require.Len(t, h.orch.History(), 2)

	require.NoError(t, h.orch.ClearCache())
	assert.Empty(t, h.orch.History())
	_, ok, _ := h.store.Get(1)
	assert.False(t, ok)
	assert.True(t, h.settings.AutoScan(), "flags survive a cache clear")
}

func TestIsInternal(t *testing.T) {
	assert.True(t, IsInternal("CHROME://newtab"))
	assert.True(t, IsInternal("view-source:https://a.example"))
	assert.True(t, IsInternal("javascript:void(0)"))
	assert.False(t, IsInternal("https://a.example"))
	assert.False(t, IsInternal("http://chrome.example"))
}
