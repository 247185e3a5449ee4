package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ipsix/scamshield/internal/api"
	"github.com/ipsix/scamshield/internal/events"
	"github.com/ipsix/scamshield/internal/heuristic"
	"github.com/ipsix/scamshield/internal/orchestrator"
	"github.com/ipsix/scamshield/internal/risk"
	"github.com/ipsix/scamshield/internal/scheduler"
	"github.com/ipsix/scamshield/internal/settings"
)

// Client talks to a running daemon's command surface.
type Client struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewClient(baseURL, token string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) DoJSON(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	c.authorize(req.Header)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) DoText(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req.Header)
	return c.do(req)
}

func (c *Client) Health(ctx context.Context) error {
	_, err := c.DoJSON(ctx, http.MethodGet, "/health", nil)
	return err
}

// CurrentScan returns nil when the daemon has no record for the tab yet.
func (c *Client) CurrentScan(ctx context.Context, tabID int, pageURL string) (*risk.TabScanRecord, error) {
	q := url.Values{}
	q.Set("tabId", strconv.Itoa(tabID))
	q.Set("url", pageURL)
	var record *risk.TabScanRecord
	if err := c.getJSON(ctx, "/api/v1/scan/current?"+q.Encode(), &record); err != nil {
		return nil, err
	}
	return record, nil
}

func (c *Client) Scan(ctx context.Context, pageURL string, tabID int) (api.ScanStarted, error) {
	var out api.ScanStarted
	err := c.sendJSON(ctx, http.MethodPost, "/api/v1/scan", api.Message{TabID: tabID, URL: pageURL}, &out)
	return out, err
}

func (c *Client) TabClosed(ctx context.Context, tabID int) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/v1/tabs/closed", api.Message{TabID: tabID}, nil)
}

func (c *Client) ClearCache(ctx context.Context) error {
	_, err := c.DoJSON(ctx, http.MethodPost, "/api/v1/cache/clear", nil)
	return err
}

func (c *Client) History(ctx context.Context) ([]risk.HistoryEntry, error) {
	var out []risk.HistoryEntry
	err := c.getJSON(ctx, "/api/v1/history", &out)
	return out, err
}

func (c *Client) Settings(ctx context.Context) (settings.Snapshot, error) {
	var out settings.Snapshot
	err := c.getJSON(ctx, "/api/v1/settings", &out)
	return out, err
}

func (c *Client) UpdateSettings(ctx context.Context, flags settings.Flags) (settings.Snapshot, error) {
	var out settings.Snapshot
	err := c.sendJSON(ctx, http.MethodPatch, "/api/v1/settings", flags, &out)
	return out, err
}

func (c *Client) Tab(ctx context.Context, tabID int) (orchestrator.TabState, error) {
	var out orchestrator.TabState
	err := c.getJSON(ctx, "/api/v1/tabs/"+strconv.Itoa(tabID), &out)
	return out, err
}

func (c *Client) CheckDomain(ctx context.Context, host string) (heuristic.Verdict, error) {
	var out heuristic.Verdict
	err := c.getJSON(ctx, "/api/v1/check-domain?host="+url.QueryEscape(host), &out)
	return out, err
}

func (c *Client) Jobs(ctx context.Context) ([]scheduler.JobInfo, error) {
	var out []scheduler.JobInfo
	err := c.getJSON(ctx, "/api/v1/maintenance", &out)
	return out, err
}

func (c *Client) RunJob(ctx context.Context, name string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	err := c.sendJSON(ctx, http.MethodPost, "/api/v1/maintenance/"+url.PathEscape(name), nil, &out)
	return out.Status, err
}

// Stream calls fn for every event until ctx is done, the daemon closes the
// stream, or fn returns false. A negative tabID receives every tab.
func (c *Client) Stream(ctx context.Context, tabID int, fn func(events.Event) bool) error {
	wsURL := "ws" + strings.TrimPrefix(c.BaseURL, "http") + "/api/v1/stream"
	if tabID >= 0 {
		wsURL += "?tabId=" + strconv.Itoa(tabID)
	}
	header := http.Header{}
	c.authorize(header)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var ev events.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		if !fn(ev) {
			return nil
		}
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	return c.sendJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body, out interface{}) error {
	raw, err := c.DoJSON(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(h http.Header) {
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
	}
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}
