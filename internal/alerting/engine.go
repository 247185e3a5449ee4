package alerting

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ipsix/scamshield/internal/config"
	"github.com/ipsix/scamshield/internal/heuristic"
	"github.com/ipsix/scamshield/internal/logging"
	"github.com/ipsix/scamshield/internal/risk"
)

type Alert struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Severity  risk.Level  `json:"severity"`
	TabID     int         `json:"tabId"`
	URL       string      `json:"url"`
	Host      string      `json:"host,omitempty"`
	Score     int         `json:"score"`
	Source    risk.Source `json:"source,omitempty"`
	Findings  []string    `json:"findings"`
	Reason    string      `json:"reason"`
}

type Channel interface {
	Name() string
	Send(alert Alert) error
}

// Engine fans settled scans at or above the minimum level out to every
// channel. Delivery failures are logged and never reach the caller.
type Engine struct {
	logger       *logging.Logger
	channels     []Channel
	minLevel     risk.Level
	throttle     time.Duration
	retryMax     int
	retryBackoff time.Duration
	now          func() time.Time
	sleep        func(time.Duration)

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// New builds an engine from cfg. A zero dedup window disables throttling.
func New(logger *logging.Logger, cfg config.AlertingConfig) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	minLevel := risk.Level(strings.ToUpper(cfg.MinLevel))
	if minLevel == "" {
		minLevel = risk.LevelHigh
	}
	return &Engine{
		logger:       logger,
		minLevel:     minLevel,
		throttle:     cfg.DedupWindowDuration(),
		retryMax:     cfg.RetryMax,
		retryBackoff: cfg.RetryBackoffDuration(),
		now:          time.Now,
		sleep:        time.Sleep,
		lastSeen:     make(map[string]time.Time),
	}
}

func (e *Engine) Register(channel Channel) {
	e.channels = append(e.channels, channel)
}

// Observe turns a settled scan into an alert when its level qualifies.
func (e *Engine) Observe(record risk.TabScanRecord) {
	level := risk.LevelForScore(record.Result.Score)
	if levelRank(level) < levelRank(e.minLevel) {
		return
	}
	host, _ := heuristic.ExtractHost(record.URL)
	e.Send(Alert{
		Timestamp: record.Timestamp,
		Severity:  level,
		TabID:     record.TabID,
		URL:       record.URL,
		Host:      host,
		Score:     record.Result.Score,
		Source:    record.Result.Source,
		Findings:  append([]string{}, record.Result.Findings...),
		Reason:    reasonFor(record.Result),
	})
}

func (e *Engine) Send(alert Alert) {
	if alert.ID == "" {
		alert.ID = fingerprint(alert)
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = e.now().UTC()
	}

	if e.isThrottled(alert.ID) {
		e.logger.Debug("alert throttled", logging.F("alert_id", alert.ID), logging.F("url", alert.URL))
		return
	}

	for _, ch := range e.channels {
		if err := e.deliver(ch, alert); err != nil {
			e.logger.Error("alert delivery failed",
				logging.F("channel", ch.Name()),
				logging.F("alert_id", alert.ID),
				logging.Err(err),
			)
		}
	}
}

func (e *Engine) deliver(ch Channel, alert Alert) error {
	var err error
	for attempt := 0; attempt <= e.retryMax; attempt++ {
		if attempt > 0 && e.retryBackoff > 0 {
			e.sleep(e.retryBackoff * time.Duration(attempt))
		}
		if err = ch.Send(alert); err == nil {
			return nil
		}
	}
	return err
}

func (e *Engine) isThrottled(id string) bool {
	if e.throttle <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	last, ok := e.lastSeen[id]
	if ok && now.Sub(last) < e.throttle {
		return true
	}
	e.lastSeen[id] = now
	for key, seen := range e.lastSeen {
		if now.Sub(seen) >= e.throttle {
			delete(e.lastSeen, key)
		}
	}
	return false
}

func reasonFor(result risk.ScanResult) string {
	if result.Source == risk.SourceHeuristic {
		return "domain impersonation detected while the risk service was unavailable"
	}
	return fmt.Sprintf("risk service scored the page %d/100", result.Score)
}

func levelRank(level risk.Level) int {
	switch level {
	case risk.LevelHigh:
		return 2
	case risk.LevelMedium:
		return 1
	default:
		return 0
	}
}

// fingerprint keys deduplication on the page and its level.
func fingerprint(alert Alert) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s", alert.URL, alert.Severity)
	return hex.EncodeToString(h.Sum(nil))
}
