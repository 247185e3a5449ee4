package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ipsix/scamshield/internal/risk"
	"github.com/ipsix/scamshield/internal/settings"
	"github.com/ipsix/scamshield/internal/storage"
)

const (
	tabsBucket = "tabs"
	urlsBucket = "urls"
	metaBucket = "meta"
	lastKey    = "lastScan"

	DefaultFreshness = 30 * time.Second
)

// ErrHistoryNotSaved is returned by Write when the record landed but the
// history entry could not be persisted.
var ErrHistoryNotSaved = errors.New("history not saved")

type Options struct {
	Freshness time.Duration
	Now       func() time.Time
}

// Store persists completed scans: one record per tab, a URL-keyed mirror and
// the global last-scan pointer. History goes through the settings owner.
type Store struct {
	mu        sync.Mutex
	kv        storage.Store
	settings  *settings.Settings
	freshness time.Duration
	now       func() time.Time
}

func NewStore(kv storage.Store, s *settings.Settings, opts Options) *Store {
	if opts.Freshness <= 0 {
		opts.Freshness = DefaultFreshness
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		kv:        kv,
		settings:  s,
		freshness: opts.Freshness,
		now:       opts.Now,
	}
}

// Invalidate removes the tab record only. The URL mirror and history are
// left alone.
func (s *Store) Invalidate(tabID int) error {
	if err := s.kv.Delete(tabsBucket, tabKey(tabID)); err != nil {
		return fmt.Errorf("invalidate tab %d: %w", tabID, err)
	}
	return nil
}

func (s *Store) Write(tabID int, url string, result risk.ScanResult) (risk.TabScanRecord, error) {
	record := risk.TabScanRecord{
		TabID:     tabID,
		URL:       url,
		Result:    result,
		Timestamp: s.now().UTC(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return risk.TabScanRecord{}, fmt.Errorf("encode record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Put(tabsBucket, tabKey(tabID), raw); err != nil {
		return risk.TabScanRecord{}, fmt.Errorf("write tab record: %w", err)
	}
	if url != "" {
		if err := s.kv.Put(urlsBucket, url, raw); err != nil {
			return risk.TabScanRecord{}, fmt.Errorf("write url mirror: %w", err)
		}
	}
	if err := s.kv.Put(metaBucket, lastKey, raw); err != nil {
		return risk.TabScanRecord{}, fmt.Errorf("write last scan: %w", err)
	}

	if s.settings != nil && result.Score >= 0 && result.Score <= 100 {
		if err := s.settings.AppendHistory(risk.HistoryEntry{
			URL:       url,
			Score:     result.Score,
			RiskLevel: risk.LevelForScore(result.Score),
			Timestamp: record.Timestamp,
		}); err != nil {
			return record, fmt.Errorf("%w: %v", ErrHistoryNotSaved, err)
		}
	}
	return record, nil
}

func (s *Store) Get(tabID int) (risk.TabScanRecord, bool, error) {
	return s.read(tabsBucket, tabKey(tabID))
}

func (s *Store) ByURL(url string) (risk.TabScanRecord, bool, error) {
	if url == "" {
		return risk.TabScanRecord{}, false, nil
	}
	return s.read(urlsBucket, url)
}

func (s *Store) Last() (risk.TabScanRecord, bool, error) {
	return s.read(metaBucket, lastKey)
}

// Fresh reports whether the tab has a record, that record's tab is the one
// the global pointer names, and the pointer is younger than the window.
func (s *Store) Fresh(tabID int) (risk.TabScanRecord, bool) {
	record, ok, err := s.Get(tabID)
	if err != nil || !ok {
		return risk.TabScanRecord{}, false
	}
	last, ok, err := s.Last()
	if err != nil || !ok {
		return risk.TabScanRecord{}, false
	}
	if last.TabID != tabID {
		return risk.TabScanRecord{}, false
	}
	if s.now().Sub(last.Timestamp) >= s.freshness {
		return risk.TabScanRecord{}, false
	}
	return record, true
}

func (s *Store) History() []risk.HistoryEntry {
	if s.settings == nil {
		return []risk.HistoryEntry{}
	}
	return s.settings.History()
}

// Clear wipes the whole backing store and the history. Flags are written
// back so they outlive the wipe.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Clear(); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	if s.settings != nil {
		if err := s.settings.ClearHistory(); err != nil {
			return fmt.Errorf("reset settings: %w", err)
		}
	}
	return nil
}

// PruneMirror deletes URL mirror records older than maxAge and returns how
// many were removed. Undecodable records are removed as well.
func (s *Store) PruneMirror(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-maxAge)
	stale := []string{}
	err := s.kv.ForEach(urlsBucket, func(key, value []byte) error {
		var record risk.TabScanRecord
		if err := json.Unmarshal(value, &record); err != nil || record.Timestamp.Before(cutoff) {
			stale = append(stale, string(key))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan url mirror: %w", err)
	}
	for _, key := range stale {
		if err := s.kv.Delete(urlsBucket, key); err != nil {
			return 0, fmt.Errorf("prune %s: %w", key, err)
		}
	}
	return len(stale), nil
}

func (s *Store) read(bucket, key string) (risk.TabScanRecord, bool, error) {
	raw, err := s.kv.Get(bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return risk.TabScanRecord{}, false, nil
		}
		return risk.TabScanRecord{}, false, fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}
	var record risk.TabScanRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return risk.TabScanRecord{}, false, fmt.Errorf("decode %s/%s: %w", bucket, key, err)
	}
	return record, true, nil
}

func tabKey(tabID int) string {
	return strconv.Itoa(tabID)
}
