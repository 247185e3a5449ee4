package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ipsix/scamshield/internal/risk"
	"github.com/ipsix/scamshield/internal/storage"
)

const (
	Bucket = "meta"
	Key    = "settings"

	DefaultHistoryLimit = 20
)

type Snapshot struct {
	AutoScan     bool                `json:"autoScan"`
	ShowWarnings bool                `json:"showWarnings"`
	ScanHistory  []risk.HistoryEntry `json:"scanHistory"`
}

func Defaults() Snapshot {
	return Snapshot{
		AutoScan:     true,
		ShowWarnings: true,
		ScanHistory:  []risk.HistoryEntry{},
	}
}

// Flags is a partial update; nil fields are left unchanged.
type Flags struct {
	AutoScan     *bool `json:"autoScan,omitempty"`
	ShowWarnings *bool `json:"showWarnings,omitempty"`
}

// Settings owns the process-wide snapshot. It is loaded once and changed only
// through AppendHistory, ClearHistory and UpdateFlags.
type Settings struct {
	mu    sync.RWMutex
	store storage.Store
	limit int
	snap  Snapshot
}

// Load reads the persisted snapshot and merges it over the defaults. A
// missing record yields the defaults.
func Load(store storage.Store, historyLimit int) (*Settings, error) {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	s := &Settings{store: store, limit: historyLimit, snap: Defaults()}
	if store == nil {
		return s, nil
	}
	raw, err := store.Get(Bucket, Key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s, nil
		}
		return nil, fmt.Errorf("load settings: %w", err)
	}
	merged := Defaults()
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if merged.ScanHistory == nil {
		merged.ScanHistory = []risk.HistoryEntry{}
	}
	if len(merged.ScanHistory) > historyLimit {
		merged.ScanHistory = merged.ScanHistory[:historyLimit]
	}
	s.snap = merged
	return s, nil
}

func (s *Settings) AutoScan() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.AutoScan
}

func (s *Settings) ShowWarnings() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.ShowWarnings
}

func (s *Settings) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	out.ScanHistory = append([]risk.HistoryEntry{}, s.snap.ScanHistory...)
	return out
}

// History returns a copy, most recent first.
func (s *Settings) History() []risk.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]risk.HistoryEntry{}, s.snap.ScanHistory...)
}

// AppendHistory puts entry at the head of the history, drops entries past the
// limit from the tail and persists the snapshot.
func (s *Settings) AppendHistory(entry risk.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := make([]risk.HistoryEntry, 0, len(s.snap.ScanHistory)+1)
	history = append(history, entry)
	history = append(history, s.snap.ScanHistory...)
	if len(history) > s.limit {
		history = history[:s.limit]
	}
	s.snap.ScanHistory = history
	return s.persistLocked()
}

// ClearHistory empties the history and persists the snapshot, so flags
// survive a wipe of the backing store.
func (s *Settings) ClearHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.ScanHistory = []risk.HistoryEntry{}
	return s.persistLocked()
}

func (s *Settings) UpdateFlags(flags Flags) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if flags.AutoScan != nil {
		s.snap.AutoScan = *flags.AutoScan
	}
	if flags.ShowWarnings != nil {
		s.snap.ShowWarnings = *flags.ShowWarnings
	}
	out := s.snap
	out.ScanHistory = append([]risk.HistoryEntry{}, s.snap.ScanHistory...)
	return out, s.persistLocked()
}

func (s *Settings) persistLocked() error {
	if s.store == nil {
		return nil
	}
	raw, err := json.Marshal(s.snap)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := s.store.Put(Bucket, Key, raw); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}
	return nil
}
