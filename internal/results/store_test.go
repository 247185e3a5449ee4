package results

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ipsix/scamshield/internal/risk"
	"github.com/ipsix/scamshield/internal/settings"
	"github.com/ipsix/scamshield/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, kv storage.Store) (*Store, *fakeClock) {
	t.Helper()
	s, err := settings.Load(kv, 20)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewStore(kv, s, Options{Now: clock.Now}), clock
}

func TestWriteSetsRecordMirrorAndLast(t *testing.T) {
	store, _ := newTestStore(t, storage.NewMemoryStore())
	result := risk.NewResult(82, []string{"brand impersonation"}, risk.SourceService)

	if _, err := store.Write(4, "https://paypa1.example", result); err != nil {
		t.Fatalf("write: %v", err)
	}
	rec, ok, err := store.Get(4)
	if err != nil || !ok {
		t.Fatalf("expected tab record, ok=%v err=%v", ok, err)
	}
	if rec.Result.Score != 82 || rec.URL != "https://paypa1.example" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	mirror, ok, _ := store.ByURL("https://paypa1.example")
	if !ok || mirror.TabID != 4 {
		t.Fatalf("expected url mirror for tab 4, got %+v", mirror)
	}
	last, ok, _ := store.Last()
	if !ok || last.TabID != 4 {
		t.Fatalf("expected last scan pointer for tab 4, got %+v", last)
	}
	if h := store.History(); len(h) != 1 || h[0].RiskLevel != risk.LevelHigh {
		t.Fatalf("unexpected history: %+v", h)
	}
}

func TestWriteTwiceIsIdempotentExceptHistory(t *testing.T) {
	store, _ := newTestStore(t, storage.NewMemoryStore())
	result := risk.NewResult(45, []string{"a"}, risk.SourceService)

	first, err := store.Write(1, "https://a.example", result)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	second, err := store.Write(1, "https://a.example", result)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical records, got %+v vs %+v", first, second)
	}
	rec, _, _ := store.Get(1)
	last, _, _ := store.Last()
	mirror, _, _ := store.ByURL("https://a.example")
	if !reflect.DeepEqual(rec, first) || !reflect.DeepEqual(last, first) || !reflect.DeepEqual(mirror, first) {
		t.Fatalf("expected stored records to match the first write")
	}
	if got := len(store.History()); got != 2 {
		t.Fatalf("expected history to append per call, got %d entries", got)
	}
}

func TestHistoryKeepsTwentyMostRecent(t *testing.T) {
	store, clock := newTestStore(t, storage.NewMemoryStore())
	for i := 0; i < 23; i++ {
		clock.Advance(time.Second)
		url := fmt.Sprintf("https://site%02d.example", i)
		if _, err := store.Write(i, url, risk.NewResult(i*4, nil, risk.SourceService)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	history := store.History()
	if len(history) != 20 {
		t.Fatalf("expected 20 entries, got %d", len(history))
	}
	for i, entry := range history {
		want := fmt.Sprintf("https://site%02d.example", 22-i)
		if entry.URL != want {
			t.Fatalf("entry %d: expected %s, got %s", i, want, entry.URL)
		}
	}
}

func TestFreshnessWindow(t *testing.T) {
	store, clock := newTestStore(t, storage.NewMemoryStore())
	if _, err := store.Write(9, "https://a.example", risk.NewResult(10, nil, risk.SourceService)); err != nil {
		t.Fatalf("write: %v", err)
	}

	clock.Advance(29 * time.Second)
	if _, ok := store.Fresh(9); !ok {
		t.Fatalf("expected record to be fresh at T+29s")
	}
	if _, ok := store.Fresh(10); ok {
		t.Fatalf("record for tab 9 must never be fresh for tab 10")
	}

	clock.Advance(2 * time.Second)
	if _, ok := store.Fresh(9); ok {
		t.Fatalf("expected record to be stale at T+31s")
	}
}

func TestFreshRequiresLastPointer(t *testing.T) {
	store, _ := newTestStore(t, storage.NewMemoryStore())
	_, _ = store.Write(1, "https://a.example", risk.NewResult(10, nil, risk.SourceService))
	_, _ = store.Write(2, "https://b.example", risk.NewResult(10, nil, risk.SourceService))
	if _, ok := store.Fresh(1); ok {
		t.Fatalf("tab 1 is no longer the last scan and must not be fresh")
	}
	if _, ok := store.Fresh(2); !ok {
		t.Fatalf("expected tab 2 to be fresh")
	}
}

func TestInvalidateKeepsMirrorAndHistory(t *testing.T) {
	store, _ := newTestStore(t, storage.NewMemoryStore())
	_, _ = store.Write(3, "https://a.example", risk.NewResult(50, nil, risk.SourceService))
	if err := store.Invalidate(3); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := store.Get(3); ok {
		t.Fatalf("expected tab record to be gone")
	}
	if _, ok := store.Fresh(3); ok {
		t.Fatalf("invalidated tab must not be fresh")
	}
	if _, ok, _ := store.ByURL("https://a.example"); !ok {
		t.Fatalf("expected url mirror to survive invalidation")
	}
	if len(store.History()) != 1 {
		t.Fatalf("expected history to survive invalidation")
	}
}

func TestClearWipesEverything(t *testing.T) {
	kv, err := storage.NewBadgerStore(filepath.Join(t.TempDir(), "badger"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer kv.Close()
	store, _ := newTestStore(t, kv)
	_, _ = store.Write(3, "https://a.example", risk.NewResult(50, nil, risk.SourceService))

	if err := store.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := store.Get(3); ok {
		t.Fatalf("expected tab record to be gone")
	}
	if _, ok, _ := store.Last(); ok {
		t.Fatalf("expected last scan to be gone")
	}
	if len(store.History()) != 0 {
		t.Fatalf("expected history to be empty")
	}
	reloaded, err := settings.Load(kv, settings.DefaultHistoryLimit)
	if err != nil {
		t.Fatalf("reload settings: %v", err)
	}
	if !reloaded.AutoScan() || len(reloaded.History()) != 0 {
		t.Fatalf("expected persisted flags with empty history, got %+v", reloaded.Snapshot())
	}
}

func TestPruneMirror(t *testing.T) {
	store, clock := newTestStore(t, storage.NewMemoryStore())
	_, _ = store.Write(1, "https://old.example", risk.NewResult(10, nil, risk.SourceService))
	clock.Advance(2 * time.Hour)
	_, _ = store.Write(2, "https://new.example", risk.NewResult(10, nil, risk.SourceService))

	removed, err := store.PruneMirror(time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 record pruned, got %d", removed)
	}
	if _, ok, _ := store.ByURL("https://old.example"); ok {
		t.Fatalf("expected old mirror record to be pruned")
	}
	if _, ok, _ := store.ByURL("https://new.example"); !ok {
		t.Fatalf("expected new mirror record to remain")
	}
}
