package alerting

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ipsix/scamshield/internal/config"
	"github.com/ipsix/scamshield/internal/logging"
	"github.com/ipsix/scamshield/internal/risk"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

type channelBuilder func(ch config.AlertChannelConfig, logger *logging.Logger) (Channel, error)

var channelBuilders = map[string]channelBuilder{
	"log": func(ch config.AlertChannelConfig, logger *logging.Logger) (Channel, error) {
		return NewLogChannel(logger, ch.Severity), nil
	},
	"webhook": func(ch config.AlertChannelConfig, _ *logging.Logger) (Channel, error) {
		if ch.URL == "" {
			return nil, fmt.Errorf("webhook url required")
		}
		return NewWebhookChannel(ch.URL, ch.Headers, ch.Severity), nil
	},
	"email": func(ch config.AlertChannelConfig, _ *logging.Logger) (Channel, error) {
		return NewEmailChannel(EmailConfig{
			SMTPServer: ch.SMTPServer,
			SMTPUser:   ch.SMTPUser,
			SMTPPass:   ch.SMTPPass,
			From:       ch.From,
			To:         ch.To,
			Subject:    ch.Subject,
		}, ch.Severity), nil
	},
}

// BuildChannels returns the enabled channels, or a single log channel when
// none are enabled.
func BuildChannels(cfg config.AlertingConfig, logger *logging.Logger) ([]Channel, error) {
	var channels []Channel
	for i, ch := range cfg.Channels {
		if !ch.Enabled {
			continue
		}
		build, ok := channelBuilders[ch.Type]
		if !ok {
			return nil, fmt.Errorf("unknown alert channel type: %s", ch.Type)
		}
		channel, err := build(ch, logger)
		if err != nil {
			return nil, fmt.Errorf("alert channel %d: %w", i, err)
		}
		channels = append(channels, channel)
	}
	if len(channels) == 0 {
		channels = append(channels, NewLogChannel(logger, nil))
	}
	return channels, nil
}

// NewFromConfig builds an engine with every configured channel registered.
func NewFromConfig(cfg config.AlertingConfig, logger *logging.Logger) (*Engine, error) {
	channels, err := BuildChannels(cfg, logger)
	if err != nil {
		return nil, err
	}
	engine := New(logger, cfg)
	for _, ch := range channels {
		engine.Register(ch)
	}
	return engine, nil
}

func severityAllowed(allow []string, level risk.Level) bool {
	if len(allow) == 0 {
		return true
	}
	for _, v := range allow {
		if risk.Level(strings.ToUpper(strings.TrimSpace(v))) == level {
			return true
		}
	}
	return false
}
