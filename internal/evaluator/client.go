package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/ipsix/scamshield/internal/risk"
)

const maxBodyBytes = 1 << 20

// Client talks to the remote Risk Scoring Service.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = defaultHTTPClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

type checkRequest struct {
	URL string `json:"url"`
}

type checkResponse struct {
	Success   *bool    `json:"success,omitempty"`
	Score     *float64 `json:"score"`
	RiskLevel string   `json:"risk_level"`
	Findings  []string `json:"findings"`
	Error     string   `json:"error,omitempty"`
}

type HealthStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// CheckURL posts url to /check-url. Transport failures and cancellation wrap
// risk.ErrUnreachable; any HTTP-level problem is a *risk.ServiceError.
func (c *Client) CheckURL(ctx context.Context, url string) (risk.ScanResult, error) {
	payload, err := json.Marshal(checkRequest{URL: url})
	if err != nil {
		return risk.ScanResult{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/check-url", bytes.NewReader(payload))
	if err != nil {
		return risk.ScanResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return risk.ScanResult{}, fmt.Errorf("%w: %v", risk.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return risk.ScanResult{}, &risk.ServiceError{Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return risk.ScanResult{}, fmt.Errorf("%w: %v", risk.ErrUnreachable, err)
		}
		return risk.ScanResult{}, &risk.ServiceError{Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	result, err := decodeResult(body)
	if err != nil {
		return risk.ScanResult{}, &risk.ServiceError{Status: resp.StatusCode, Err: err}
	}
	return result, nil
}

func decodeResult(body []byte) (risk.ScanResult, error) {
	var parsed checkResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return risk.ScanResult{}, fmt.Errorf("decode body: %w", err)
	}
	if parsed.Success != nil && !*parsed.Success {
		if parsed.Error != "" {
			return risk.ScanResult{}, fmt.Errorf("service reported failure: %s", parsed.Error)
		}
		return risk.ScanResult{}, errors.New("service reported failure")
	}
	if parsed.Score == nil {
		return risk.ScanResult{}, errors.New("response has no score")
	}
	score := *parsed.Score
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return risk.ScanResult{}, errors.New("response score is not a finite number")
	}
	// Clamp before converting: out-of-range floats do not survive int().
	score = math.Max(0, math.Min(100, score))
	return risk.NewResult(int(math.Round(score)), parsed.Findings, risk.SourceService), nil
}

// Health calls GET /health. The outcome is informational only.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return HealthStatus{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return HealthStatus{}, fmt.Errorf("%w: %v", risk.ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return HealthStatus{}, &risk.ServiceError{Status: resp.StatusCode}
	}
	var status HealthStatus
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&status); err != nil {
		return HealthStatus{}, &risk.ServiceError{Status: resp.StatusCode, Err: fmt.Errorf("decode health: %w", err)}
	}
	return status, nil
}

var defaultHTTPClient = &http.Client{Timeout: 10 * time.Second}
