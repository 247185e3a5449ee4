package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "configs/config.json"
)

type Config struct {
	Daemon      DaemonConfig      `json:"daemon" yaml:"daemon"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	Service     ServiceConfig     `json:"service" yaml:"service"`
	Scan        ScanConfig        `json:"scan" yaml:"scan"`
	API         APIConfig         `json:"api" yaml:"api"`
	Alerting    AlertingConfig    `json:"alerting" yaml:"alerting"`
	Maintenance MaintenanceConfig `json:"maintenance" yaml:"maintenance"`
}

type DaemonConfig struct {
	LogLevel        string `json:"log_level" yaml:"log_level"`
	LogFormat       string `json:"log_format" yaml:"log_format"`
	ShutdownTimeout string `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Backend             string `json:"backend" yaml:"backend"`
	DBPath              string `json:"db_path" yaml:"db_path"`
	EncryptionKeyBase64 string `json:"encryption_key_base64" yaml:"encryption_key_base64"`
	MirrorRetention     string `json:"mirror_retention" yaml:"mirror_retention"`
}

type ServiceConfig struct {
	BaseURL     string `json:"base_url" yaml:"base_url"`
	Timeout     string `json:"timeout" yaml:"timeout"`
	HealthCheck bool   `json:"health_check" yaml:"health_check"`
}

// ScanConfig tunes the orchestrator. AutoScan and ShowWarnings are optional
// overrides applied over the persisted settings at start and on reload.
type ScanConfig struct {
	FreshnessWindow string `json:"freshness_window" yaml:"freshness_window"`
	GraceDelay      string `json:"grace_delay" yaml:"grace_delay"`
	HistoryLimit    int    `json:"history_limit" yaml:"history_limit"`
	NotifyBuffer    int    `json:"notify_buffer" yaml:"notify_buffer"`
	AutoScan        *bool  `json:"auto_scan,omitempty" yaml:"auto_scan,omitempty"`
	ShowWarnings    *bool  `json:"show_warnings,omitempty" yaml:"show_warnings,omitempty"`
}

type APIConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	BindAddr  string `json:"bind_addr" yaml:"bind_addr"`
	AuthToken string `json:"auth_token" yaml:"auth_token"`
	UI        bool   `json:"ui" yaml:"ui"`

	// AllowedOrigins lists extra browser origins, such as
	// "https://dashboard.local", that may call the API.
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

type AlertingConfig struct {
	Enabled      bool                 `json:"enabled" yaml:"enabled"`
	MinLevel     string               `json:"min_level" yaml:"min_level"`
	DedupWindow  string               `json:"dedup_window" yaml:"dedup_window"`
	RetryMax     int                  `json:"retry_max" yaml:"retry_max"`
	RetryBackoff string               `json:"retry_backoff" yaml:"retry_backoff"`
	Channels     []AlertChannelConfig `json:"channels" yaml:"channels"`
}

type AlertChannelConfig struct {
	Type     string   `json:"type" yaml:"type"`
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Severity []string `json:"severity" yaml:"severity"`

	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers" yaml:"headers"`

	SMTPServer string   `json:"smtp_server" yaml:"smtp_server"`
	SMTPUser   string   `json:"smtp_user" yaml:"smtp_user"`
	SMTPPass   string   `json:"smtp_pass" yaml:"smtp_pass"`
	From       string   `json:"from" yaml:"from"`
	To         []string `json:"to" yaml:"to"`
	Subject    string   `json:"subject" yaml:"subject"`
}

type MaintenanceConfig struct {
	PruneSchedule string `json:"prune_schedule" yaml:"prune_schedule"`
	GCSchedule    string `json:"gc_schedule" yaml:"gc_schedule"`
	JobTimeout    string `json:"job_timeout" yaml:"job_timeout"`
}

func Default() Config {
	return Config{
		Daemon: DaemonConfig{
			LogLevel:        "info",
			LogFormat:       "json",
			ShutdownTimeout: "10s",
		},
		Storage: StorageConfig{
			Backend:         "badger",
			DBPath:          "/var/lib/scamshield/badger",
			MirrorRetention: "168h",
		},
		Service: ServiceConfig{
			BaseURL:     "http://127.0.0.1:5000",
			Timeout:     "5s",
			HealthCheck: true,
		},
		Scan: ScanConfig{
			FreshnessWindow: "30s",
			GraceDelay:      "1.5s",
			HistoryLimit:    20,
			NotifyBuffer:    100,
		},
		API: APIConfig{
			Enabled:  true,
			BindAddr: "127.0.0.1:8788",
			UI:       true,
		},
		Alerting: AlertingConfig{
			Enabled:      false,
			MinLevel:     "HIGH",
			DedupWindow:  "10m",
			RetryMax:     2,
			RetryBackoff: "2s",
			Channels: []AlertChannelConfig{
				{Type: "log", Enabled: true},
			},
		},
		Maintenance: MaintenanceConfig{
			PruneSchedule: "@every 1h",
			GCSchedule:    "@every 30m",
			JobTimeout:    "2m",
		},
	}
}

// Load reads path over the defaults. Files ending in .yaml or .yml are parsed
// as YAML, everything else as JSON.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Daemon.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "daemon.log_level must be one of: debug, info, warn, error")
	}

	switch strings.ToLower(c.Daemon.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, "daemon.log_format must be one of: json, text")
	}
	errs = checkDuration(errs, "daemon.shutdown_timeout", c.Daemon.ShutdownTimeout)

	switch strings.ToLower(c.Storage.Backend) {
	case "badger", "":
		if c.Storage.DBPath == "" {
			errs = append(errs, "storage.db_path is required")
		} else if !filepath.IsAbs(c.Storage.DBPath) {
			errs = append(errs, "storage.db_path must be an absolute path")
		}
	case "memory":
	default:
		errs = append(errs, "storage.backend must be one of: badger, memory")
	}
	if c.Storage.EncryptionKeyBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(c.Storage.EncryptionKeyBase64)
		if err != nil {
			errs = append(errs, "storage.encryption_key_base64 must be valid base64")
		} else if len(decoded) != 32 {
			errs = append(errs, "storage.encryption_key_base64 must decode to 32 bytes")
		}
	}
	errs = checkDuration(errs, "storage.mirror_retention", c.Storage.MirrorRetention)

	if c.Service.BaseURL == "" {
		errs = append(errs, "service.base_url is required")
	} else if u, err := url.Parse(c.Service.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "service.base_url must be an absolute http(s) URL")
	}
	errs = checkDuration(errs, "service.timeout", c.Service.Timeout)

	errs = checkDuration(errs, "scan.freshness_window", c.Scan.FreshnessWindow)
	errs = checkDuration(errs, "scan.grace_delay", c.Scan.GraceDelay)
	if c.Scan.HistoryLimit < 0 {
		errs = append(errs, "scan.history_limit must be >= 0")
	}
	if c.Scan.NotifyBuffer < 0 {
		errs = append(errs, "scan.notify_buffer must be >= 0")
	}

	if c.API.Enabled {
		if c.API.BindAddr == "" {
			errs = append(errs, "api.bind_addr is required when enabled")
		} else if c.API.AuthToken == "" && !isLoopback(c.API.BindAddr) {
			errs = append(errs, "api.auth_token is required when api.bind_addr is not a loopback address")
		}
	}

	switch strings.ToUpper(c.Alerting.MinLevel) {
	case "", "SAFE", "MEDIUM", "HIGH":
	default:
		errs = append(errs, "alerting.min_level must be one of: SAFE, MEDIUM, HIGH")
	}
	errs = checkDuration(errs, "alerting.dedup_window", c.Alerting.DedupWindow)
	errs = checkDuration(errs, "alerting.retry_backoff", c.Alerting.RetryBackoff)
	if c.Alerting.RetryMax < 0 {
		errs = append(errs, "alerting.retry_max must be >= 0")
	}
	for i, ch := range c.Alerting.Channels {
		switch ch.Type {
		case "":
			errs = append(errs, fmt.Sprintf("alerting.channels[%d].type is required", i))
		case "log":
		case "webhook":
			if ch.Enabled && ch.URL == "" {
				errs = append(errs, fmt.Sprintf("alerting.channels[%d].url is required for webhook", i))
			}
		case "email":
			if ch.Enabled && (ch.SMTPServer == "" || ch.From == "" || len(ch.To) == 0) {
				errs = append(errs, fmt.Sprintf("alerting.channels[%d] needs smtp_server, from and to for email", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("alerting.channels[%d].type must be one of: log, webhook, email", i))
		}
	}

	errs = checkSchedule(errs, "maintenance.prune_schedule", c.Maintenance.PruneSchedule)
	errs = checkSchedule(errs, "maintenance.gc_schedule", c.Maintenance.GCSchedule)
	errs = checkDuration(errs, "maintenance.job_timeout", c.Maintenance.JobTimeout)

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func checkDuration(errs []string, field, value string) []string {
	if value == "" {
		return errs
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return append(errs, fmt.Sprintf("%s must be a valid duration (e.g. 10s)", field))
	}
	if parsed < 0 {
		return append(errs, fmt.Sprintf("%s must not be negative", field))
	}
	return errs
}

func checkSchedule(errs []string, field, value string) []string {
	if value == "" {
		return errs
	}
	if _, err := cron.ParseStandard(value); err != nil {
		return append(errs, fmt.Sprintf("%s must be a cron expression or @every <duration>", field))
	}
	return errs
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (d DaemonConfig) ShutdownTimeoutDuration() time.Duration {
	return parseDuration(d.ShutdownTimeout, 10*time.Second)
}

// MirrorRetentionDuration returns 0 when pruning is disabled.
func (s StorageConfig) MirrorRetentionDuration() time.Duration {
	return parseDuration(s.MirrorRetention, 0)
}

func (s ServiceConfig) TimeoutDuration() time.Duration {
	return parseDuration(s.Timeout, 5*time.Second)
}

func (s ScanConfig) FreshnessWindowDuration() time.Duration {
	return parseDuration(s.FreshnessWindow, 30*time.Second)
}

func (s ScanConfig) GraceDelayDuration() time.Duration {
	return parseDuration(s.GraceDelay, 1500*time.Millisecond)
}

// DedupWindowDuration returns 0 when deduplication is disabled.
func (a AlertingConfig) DedupWindowDuration() time.Duration {
	return parseDuration(a.DedupWindow, 0)
}

func (a AlertingConfig) RetryBackoffDuration() time.Duration {
	return parseDuration(a.RetryBackoff, 0)
}

func (m MaintenanceConfig) JobTimeoutDuration() time.Duration {
	return parseDuration(m.JobTimeout, 2*time.Minute)
}

func (c Config) Redacted() Config {
	clone := c
	if clone.API.AuthToken != "" {
		clone.API.AuthToken = "REDACTED"
	}
	if clone.Storage.EncryptionKeyBase64 != "" {
		clone.Storage.EncryptionKeyBase64 = "REDACTED"
	}
	if len(clone.Alerting.Channels) > 0 {
		channels := make([]AlertChannelConfig, len(clone.Alerting.Channels))
		for i, ch := range clone.Alerting.Channels {
			if ch.SMTPPass != "" {
				ch.SMTPPass = "REDACTED"
			}
			if len(ch.Headers) > 0 {
				redacted := map[string]string{}
				for key := range ch.Headers {
					redacted[key] = "REDACTED"
				}
				ch.Headers = redacted
			}
			channels[i] = ch
		}
		clone.Alerting.Channels = channels
	}
	return clone
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("SCAMSHIELD_SERVICE_URL"); ok && v != "" {
		cfg.Service.BaseURL = v
	}
	if v, ok := os.LookupEnv("SCAMSHIELD_API_ENABLED"); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.API.Enabled = parsed
		}
	}
	if v, ok := os.LookupEnv("SCAMSHIELD_API_TOKEN"); ok && v != "" {
		cfg.API.AuthToken = v
	}
	if v, ok := os.LookupEnv("SCAMSHIELD_DB_PATH"); ok && v != "" {
		cfg.Storage.DBPath = v
	}
	if v, ok := os.LookupEnv("SCAMSHIELD_LOG_LEVEL"); ok && v != "" {
		cfg.Daemon.LogLevel = v
	}
}
