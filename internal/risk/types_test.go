package risk

import (
	"errors"
	"fmt"
	"testing"
)

func TestLevelForScoreBands(t *testing.T) {
	for s := 0; s <= 100; s++ {
		got := LevelForScore(s)
		var want Level
		switch {
		case s >= 70:
			want = LevelHigh
		case s >= 40:
			want = LevelMedium
		default:
			want = LevelSafe
		}
		if got != want {
			t.Fatalf("score %d: expected %s, got %s", s, want, got)
		}
	}
}

func TestLevelForScoreBoundaries(t *testing.T) {
	cases := map[int]Level{39: LevelSafe, 40: LevelMedium, 69: LevelMedium, 70: LevelHigh}
	for score, want := range cases {
		if got := LevelForScore(score); got != want {
			t.Fatalf("score %d: expected %s, got %s", score, want, got)
		}
	}
}

func TestNewResultClampsAndDerives(t *testing.T) {
	res := NewResult(140, nil, SourceService)
	if res.Score != 100 || res.RiskLevel != LevelHigh {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Findings == nil {
		t.Fatalf("expected non-nil findings")
	}
	if !res.Consistent() {
		t.Fatalf("expected consistent result")
	}
	if (ScanResult{Score: 80, RiskLevel: LevelSafe}).Consistent() {
		t.Fatalf("expected mismatched level to be inconsistent")
	}
}

func TestStatusOf(t *testing.T) {
	err := fmt.Errorf("evaluate: %w", &ServiceError{Status: 502})
	if got := StatusOf(err); got != 502 {
		t.Fatalf("expected 502, got %d", got)
	}
	if got := StatusOf(ErrUnreachable); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	inner := errors.New("bad json")
	se := &ServiceError{Status: 200, Err: inner}
	if !errors.Is(se, inner) {
		t.Fatalf("expected unwrap to expose cause")
	}
}
