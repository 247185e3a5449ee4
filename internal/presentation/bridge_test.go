package presentation

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipsix/scamshield/internal/logging"
	"github.com/ipsix/scamshield/internal/risk"
)

type fakeSurface struct {
	icons     []IconState
	banners   []Banner
	bannerErr error
	iconErr   error
}

func (f *fakeSurface) SetIcon(tabID int, state IconState) error {
	f.icons = append(f.icons, state)
	return f.iconErr
}

func (f *fakeSurface) ShowBanner(tabID int, banner Banner) error {
	if f.bannerErr != nil {
		return f.bannerErr
	}
	f.banners = append(f.banners, banner)
	return nil
}

type countingRecorder struct{ banners int }

func (c *countingRecorder) ObserveBanner(risk.Level) { c.banners++ }

func TestIconForScoreBoundaries(t *testing.T) {
	cases := map[int]Icon{
		0:   IconSafe,
		39:  IconSafe,
		40:  IconMedium,
		69:  IconMedium,
		70:  IconHigh,
		100: IconHigh,
	}
	for score, want := range cases {
		assert.Equal(t, want, IconForScore(score), "score %d", score)
	}
}

func TestReflectAndScanning(t *testing.T) {
	surface := &fakeSurface{}
	bridge := NewBridge(surface, nil, nil)

	bridge.Scanning(1)
	bridge.Reflect(1, 55)

	require.Len(t, surface.icons, 2)
	assert.Equal(t, IconNeutral, surface.icons[0].Icon)
	assert.Equal(t, IconMedium, surface.icons[1].Icon)
	assert.Equal(t, "55", surface.icons[1].Badge)
}

func TestWarnSwallowsSurfaceErrors(t *testing.T) {
	var buf bytes.Buffer
	surface := &fakeSurface{bannerErr: errors.New("cannot inject into privileged page")}
	rec := &countingRecorder{}
	bridge := NewBridge(surface, logging.NewWithWriter("text", "debug", &buf), rec)

	bridge.Warn(3, "https://paypa1.com", risk.NewResult(90, []string{"a"}, risk.SourceService))

	assert.Equal(t, 0, rec.banners)
	assert.True(t, strings.Contains(buf.String(), "banner injection failed"))
}

func TestWarnBuildsBanner(t *testing.T) {
	surface := &fakeSurface{}
	rec := &countingRecorder{}
	bridge := NewBridge(surface, nil, rec)

	result := risk.NewResult(85, []string{"a", "b", "c", "d"}, risk.SourceHeuristic)
	bridge.Warn(3, "https://paypa1.com", result)

	require.Len(t, surface.banners, 1)
	banner := surface.banners[0]
	assert.Equal(t, risk.LevelHigh, banner.RiskLevel)
	assert.Equal(t, []string{"a", "b", "c"}, banner.Findings)
	assert.NotEmpty(t, banner.Recommendations)
	assert.Equal(t, 1, rec.banners)
}

func TestNilSurfaceIsTolerated(t *testing.T) {
	bridge := NewBridge(nil, nil, nil)
	bridge.Scanning(1)
	bridge.Reflect(1, 90)
	bridge.Warn(1, "https://a.example", risk.NewResult(90, nil, risk.SourceService))
}

func TestRecommendationsPerBand(t *testing.T) {
	assert.NotEqual(t, Recommendations(85), Recommendations(72))
	assert.NotEqual(t, Recommendations(72), Recommendations(45))
	assert.NotEqual(t, Recommendations(45), Recommendations(10))
}
