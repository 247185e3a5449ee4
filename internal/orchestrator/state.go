package orchestrator

import (
	"strings"
	"time"

	"github.com/ipsix/scamshield/internal/risk"
)

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseScanning Phase = "scanning"
	PhaseSettled  Phase = "settled"
	PhaseErrored  Phase = "errored"
)

type TabState struct {
	TabID      int              `json:"tabId"`
	Phase      Phase            `json:"phase"`
	URL        string           `json:"url,omitempty"`
	ScanID     string           `json:"scanId,omitempty"`
	Generation uint64           `json:"generation"`
	Result     *risk.ScanResult `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
	UpdatedAt  time.Time        `json:"updatedAt,omitempty"`
}

var internalSchemes = []string{
	"chrome:",
	"chrome-extension:",
	"chrome-search:",
	"edge:",
	"brave:",
	"opera:",
	"vivaldi:",
	"about:",
	"moz-extension:",
	"resource:",
	"devtools:",
	"view-source:",
	"file:",
	"data:",
	"blob:",
	"javascript:",
}

// IsInternal reports whether url belongs to a browser-reserved scheme that is
// never scanned. An empty url counts as internal.
func IsInternal(url string) bool {
	u := strings.ToLower(strings.TrimSpace(url))
	if u == "" {
		return true
	}
	for _, scheme := range internalSchemes {
		if strings.HasPrefix(u, scheme) {
			return true
		}
	}
	return false
}
