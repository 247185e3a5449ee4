package risk

import "time"

type Level string

const (
	LevelSafe   Level = "SAFE"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

const (
	HighThreshold   = 70
	MediumThreshold = 40
)

// LevelForScore maps a 0-100 score to its severity band. Boundary values
// belong to the higher band.
func LevelForScore(score int) Level {
	switch {
	case score >= HighThreshold:
		return LevelHigh
	case score >= MediumThreshold:
		return LevelMedium
	default:
		return LevelSafe
	}
}

type Source string

const (
	SourceService   Source = "service"
	SourceHeuristic Source = "heuristic"
)

type ScanResult struct {
	Score     int      `json:"score"`
	RiskLevel Level    `json:"riskLevel"`
	Findings  []string `json:"findings"`
	Source    Source   `json:"source,omitempty"`
}

// NewResult clamps score into 0-100 and derives the risk level from it.
func NewResult(score int, findings []string, source Source) ScanResult {
	score = ClampScore(score)
	if findings == nil {
		findings = []string{}
	}
	return ScanResult{
		Score:     score,
		RiskLevel: LevelForScore(score),
		Findings:  findings,
		Source:    source,
	}
}

func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Consistent reports whether RiskLevel agrees with Score.
func (r ScanResult) Consistent() bool {
	return r.Score >= 0 && r.Score <= 100 && r.RiskLevel == LevelForScore(r.Score)
}

type TabScanRecord struct {
	TabID     int        `json:"tabId"`
	URL       string     `json:"url"`
	Result    ScanResult `json:"result"`
	Timestamp time.Time  `json:"timestamp"`
}

type HistoryEntry struct {
	URL       string    `json:"url"`
	Score     int       `json:"score"`
	RiskLevel Level     `json:"riskLevel"`
	Timestamp time.Time `json:"timestamp"`
}
