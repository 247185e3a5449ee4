package events

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ipsix/scamshield/internal/logging"
	"github.com/ipsix/scamshield/internal/presentation"
	"github.com/ipsix/scamshield/internal/risk"
)

type Type string

const (
	TypeScanComplete Type = "scanComplete"
	TypeSetIcon      Type = "setIcon"
	TypeShowBanner   Type = "showBanner"
)

const DefaultBuffer = 100

var ErrClosed = errors.New("broker closed")

type Event struct {
	ID        string                  `json:"id"`
	Type      Type                    `json:"type"`
	TabID     int                     `json:"tabId"`
	URL       string                  `json:"url,omitempty"`
	ScanID    string                  `json:"scanId,omitempty"`
	Result    *risk.ScanResult        `json:"result,omitempty"`
	Icon      *presentation.IconState `json:"icon,omitempty"`
	Banner    *presentation.Banner    `json:"banner,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// Broker fans events out to every subscriber. A full subscriber buffer drops
// the event for that subscriber only. Publishing with no subscribers is fine.
type Broker struct {
	mu      sync.RWMutex
	subs    map[chan Event]struct{}
	closed  bool
	logger  *logging.Logger
	dropped atomic.Int64
}

func NewBroker(logger *logging.Logger) *Broker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Broker{subs: make(map[chan Event]struct{}), logger: logger}
}

func (b *Broker) Subscribe(buf int) chan Event {
	if buf <= 0 {
		buf = DefaultBuffer
	}
	ch := make(chan Event, buf)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	return ch
}

func (b *Broker) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; !ok {
		return
	}
	delete(b.subs, ch)
	close(ch)
}

func (b *Broker) Publish(ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			count := b.dropped.Add(1)
			if count == 1 || count%100 == 0 {
				b.logger.Warn("dropped event for slow subscriber",
					logging.F("type", ev.Type),
					logging.F("tab_id", ev.TabID),
					logging.F("total_dropped", count),
				)
			}
		}
	}
	return nil
}

// ScanComplete publishes the completion notification for a tab.
func (b *Broker) ScanComplete(tabID int, url, scanID string, result risk.ScanResult) error {
	return b.Publish(Event{Type: TypeScanComplete, TabID: tabID, URL: url, ScanID: scanID, Result: &result})
}

func (b *Broker) SetIcon(tabID int, state presentation.IconState) error {
	return b.Publish(Event{Type: TypeSetIcon, TabID: tabID, Icon: &state})
}

func (b *Broker) ShowBanner(tabID int, banner presentation.Banner) error {
	return b.Publish(Event{Type: TypeShowBanner, TabID: tabID, URL: banner.URL, Banner: &banner})
}

func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker) DroppedCount() int64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later publishes fail with ErrClosed.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}

var _ presentation.Surface = (*Broker)(nil)
