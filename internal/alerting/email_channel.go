package alerting

import (
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

type EmailConfig struct {
	SMTPServer string
	SMTPUser   string
	SMTPPass   string
	From       string
	To         []string
	Subject    string
}

func (c EmailConfig) complete() bool {
	return c.SMTPServer != "" && c.From != "" && len(c.To) > 0
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type EmailChannel struct {
	cfg      EmailConfig
	severity []string
	send     sendMailFunc
}

func NewEmailChannel(cfg EmailConfig, severity []string) *EmailChannel {
	return &EmailChannel{cfg: cfg, severity: severity, send: smtp.SendMail}
}

func (e *EmailChannel) Name() string { return "email" }

func (e *EmailChannel) Send(alert Alert) error {
	if !severityAllowed(e.severity, alert.Severity) {
		return nil
	}
	if !e.cfg.complete() {
		return fmt.Errorf("email channel not configured")
	}
	var auth smtp.Auth
	if e.cfg.SMTPUser != "" && e.cfg.SMTPPass != "" {
		host, _, err := net.SplitHostPort(e.cfg.SMTPServer)
		if err != nil {
			host = e.cfg.SMTPServer
		}
		auth = smtp.PlainAuth("", e.cfg.SMTPUser, e.cfg.SMTPPass, host)
	}
	return e.send(e.cfg.SMTPServer, auth, e.cfg.From, e.cfg.To, e.message(alert))
}

func (e *EmailChannel) message(alert Alert) []byte {
	subject := e.cfg.Subject
	if subject == "" {
		target := alert.Host
		if target == "" {
			target = alert.URL
		}
		subject = fmt.Sprintf("ScamShield: %s risk page %s", alert.Severity, target)
	}

	var b strings.Builder
	header := func(k, v string) { b.WriteString(k + ": " + v + "\r\n") }
	header("From", e.cfg.From)
	header("To", strings.Join(e.cfg.To, ", "))
	header("Subject", subject)
	header("Date", alert.Timestamp.UTC().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=utf-8")
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "Severity: %s\r\nScore: %d/100\r\nURL: %s\r\n", alert.Severity, alert.Score, alert.URL)
	if alert.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\r\n", alert.Reason)
	}
	if len(alert.Findings) > 0 {
		b.WriteString("\r\nFindings:\r\n")
		for _, f := range alert.Findings {
			b.WriteString("- " + f + "\r\n")
		}
	}
	return []byte(b.String())
}
