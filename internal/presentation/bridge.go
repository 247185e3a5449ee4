package presentation

import (
	"fmt"

	"github.com/ipsix/scamshield/internal/logging"
	"github.com/ipsix/scamshield/internal/risk"
)

type Icon string

const (
	IconNeutral Icon = "neutral"
	IconSafe    Icon = "safe"
	IconMedium  Icon = "medium"
	IconHigh    Icon = "high"
)

// maxBannerFindings bounds how many findings a banner carries.
const maxBannerFindings = 3

type IconState struct {
	Icon  Icon   `json:"icon"`
	Badge string `json:"badge,omitempty"`
	Title string `json:"title"`
}

type Banner struct {
	URL             string     `json:"url"`
	Score           int        `json:"score"`
	RiskLevel       risk.Level `json:"riskLevel"`
	Title           string     `json:"title"`
	Findings        []string   `json:"findings"`
	Recommendations []string   `json:"recommendations"`
}

// Surface is where icon and banner commands are delivered. Implementations
// may fail; the bridge never propagates those failures.
type Surface interface {
	SetIcon(tabID int, state IconState) error
	ShowBanner(tabID int, banner Banner) error
}

// Recorder counts banners that were handed to the surface.
type Recorder interface {
	ObserveBanner(level risk.Level)
}

// Bridge turns scores into UI commands.
type Bridge struct {
	surface  Surface
	logger   *logging.Logger
	recorder Recorder
}

func NewBridge(surface Surface, logger *logging.Logger, recorder Recorder) *Bridge {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Bridge{surface: surface, logger: logger, recorder: recorder}
}

func IconForScore(score int) Icon {
	switch risk.LevelForScore(score) {
	case risk.LevelHigh:
		return IconHigh
	case risk.LevelMedium:
		return IconMedium
	default:
		return IconSafe
	}
}

// Scanning shows the neutral in-progress icon. It is also the reset state
// after a failed scan.
func (b *Bridge) Scanning(tabID int) {
	b.setIcon(tabID, IconState{Icon: IconNeutral, Title: "Scanning page"})
}

func (b *Bridge) Reset(tabID int) {
	b.setIcon(tabID, IconState{Icon: IconNeutral, Title: "Not scanned"})
}

func (b *Bridge) Reflect(tabID int, score int) {
	score = risk.ClampScore(score)
	level := risk.LevelForScore(score)
	b.setIcon(tabID, IconState{
		Icon:  IconForScore(score),
		Badge: fmt.Sprintf("%d", score),
		Title: fmt.Sprintf("Risk %s (%d/100)", level, score),
	})
}

// Warn requests an in-page banner. The caller decides whether one is due.
func (b *Bridge) Warn(tabID int, url string, result risk.ScanResult) {
	if b.surface == nil {
		return
	}
	banner := BannerFor(url, result)
	if err := b.surface.ShowBanner(tabID, banner); err != nil {
		b.logger.Warn("banner injection failed",
			logging.F("tab_id", tabID),
			logging.F("url", url),
			logging.Err(err),
		)
		return
	}
	if b.recorder != nil {
		b.recorder.ObserveBanner(result.RiskLevel)
	}
}

func (b *Bridge) setIcon(tabID int, state IconState) {
	if b.surface == nil {
		return
	}
	if err := b.surface.SetIcon(tabID, state); err != nil {
		b.logger.Debug("icon update failed",
			logging.F("tab_id", tabID),
			logging.F("icon", state.Icon),
			logging.Err(err),
		)
	}
}

func BannerFor(url string, result risk.ScanResult) Banner {
	findings := result.Findings
	if len(findings) > maxBannerFindings {
		findings = findings[:maxBannerFindings]
	}
	return Banner{
		URL:             url,
		Score:           result.Score,
		RiskLevel:       risk.LevelForScore(result.Score),
		Title:           titleFor(result.Score),
		Findings:        append([]string{}, findings...),
		Recommendations: Recommendations(result.Score),
	}
}

func titleFor(score int) string {
	switch {
	case score >= 80:
		return "Critical risk: this site is very likely a scam"
	case score >= risk.HighThreshold:
		return "High risk: strong scam indicators detected"
	case score >= risk.MediumThreshold:
		return "Medium risk: suspicious patterns detected"
	default:
		return "No significant risk detected"
	}
}

// Recommendations returns user guidance for a score. Bands above 70 are split
// at 80 the same way the scoring service labels them.
func Recommendations(score int) []string {
	switch {
	case score >= 80:
		return []string{
			"Do not enter passwords or payment details on this page",
			"Do not click any links",
			"Close the tab and visit the official website directly",
		}
	case score >= risk.HighThreshold:
		return []string{
			"Do not click any links",
			"Verify the address carefully before continuing",
			"Contact the company using official contact information",
		}
	case score >= risk.MediumThreshold:
		return []string{
			"Check the address for spelling errors",
			"Do not provide personal information",
			"When in doubt, open the site from a bookmark",
		}
	default:
		return []string{"Stay alert for unexpected requests for personal information"}
	}
}
