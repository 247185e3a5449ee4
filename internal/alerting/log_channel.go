package alerting

import "github.com/ipsix/scamshield/internal/logging"

type LogChannel struct {
	logger   *logging.Logger
	severity []string
}

func NewLogChannel(logger *logging.Logger, severity []string) *LogChannel {
	return &LogChannel{logger: logger, severity: severity}
}

func (l *LogChannel) Name() string { return "log" }

func (l *LogChannel) Send(alert Alert) error {
	if !severityAllowed(l.severity, alert.Severity) {
		return nil
	}
	l.logger.Warn("risky page alert",
		logging.F("id", alert.ID),
		logging.F("severity", alert.Severity),
		logging.F("tab_id", alert.TabID),
		logging.F("url", alert.URL),
		logging.F("score", alert.Score),
		logging.F("source", alert.Source),
		logging.F("reason", alert.Reason),
	)
	return nil
}
