package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ipsix/scamshield/internal/heuristic"
	"github.com/ipsix/scamshield/internal/logging"
	"github.com/ipsix/scamshield/internal/risk"
)

const DefaultTimeout = 5 * time.Second

// Fallback outcomes reported to the Recorder.
const (
	FallbackSuspicious = "suspicious"
	FallbackClean      = "clean"
)

// Checker is the domain heuristic consulted when the service cannot answer.
type Checker interface {
	Check(raw string) heuristic.Verdict
}

// Recorder receives instrumentation. Implementations must be safe for
// concurrent use.
type Recorder interface {
	ObserveServiceRequest(outcome string, elapsed time.Duration)
	ObserveFallback(result string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveServiceRequest(string, time.Duration) {}
func (nopRecorder) ObserveFallback(string)                      {}

type Options struct {
	Timeout  time.Duration
	Checker  Checker
	Logger   *logging.Logger
	Recorder Recorder
}

// Evaluator obtains a ScanResult for a URL, preferring the remote service and
// degrading to the domain heuristic when the service is unavailable.
type Evaluator struct {
	client   *Client
	checker  Checker
	timeout  time.Duration
	logger   *logging.Logger
	recorder Recorder
}

func New(client *Client, opts Options) *Evaluator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Checker == nil {
		opts.Checker = heuristic.NewChecker(heuristic.DefaultRules(), heuristic.DefaultBrands())
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Evaluator{
		client:   client,
		checker:  opts.Checker,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		recorder: opts.Recorder,
	}
}

// Evaluate is bounded by the configured timeout from the moment it is called.
//
// A non-2xx answer or an unreachable service is not a failure by itself: the
// heuristic runs and, if it flags the domain, its verdict becomes the result.
// Otherwise the original error is returned (*risk.ServiceError or
// risk.ErrUnreachable). A 2xx answer with an unusable body is never retried
// through the heuristic.
func (e *Evaluator) Evaluate(ctx context.Context, url string) (risk.ScanResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	result, err := e.client.CheckURL(ctx, url)
	elapsed := time.Since(start)
	if err == nil {
		e.recorder.ObserveServiceRequest("ok", elapsed)
		return result, nil
	}

	status := risk.StatusOf(err)
	switch {
	case errors.Is(err, risk.ErrUnreachable):
		e.recorder.ObserveServiceRequest("unreachable", elapsed)
	case status >= 200 && status < 300:
		e.recorder.ObserveServiceRequest("malformed", elapsed)
		return risk.ScanResult{}, err
	case status > 0:
		e.recorder.ObserveServiceRequest("status", elapsed)
	default:
		e.recorder.ObserveServiceRequest("error", elapsed)
		return risk.ScanResult{}, err
	}

	verdict := e.checker.Check(url)
	if !verdict.Suspicious {
		e.recorder.ObserveFallback(FallbackClean)
		return risk.ScanResult{}, err
	}
	e.recorder.ObserveFallback(FallbackSuspicious)
	e.logger.Info("service unavailable, using domain heuristic",
		logging.F("url", url),
		logging.F("status", status),
		logging.F("brand", verdict.Brand),
		logging.F("score", verdict.Score),
		logging.Err(err),
	)
	return Synthesize(verdict, status), nil
}

// Health performs the informational startup probe under the same budget.
func (e *Evaluator) Health(ctx context.Context) (HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.client.Health(ctx)
}

// Synthesize builds a result from a suspicious heuristic verdict. status is
// the HTTP status the service answered with, or 0 when it was unreachable.
func Synthesize(verdict heuristic.Verdict, status int) risk.ScanResult {
	findings := make([]string, 0, len(verdict.Findings)+1)
	findings = append(findings, verdict.Findings...)
	if status > 0 {
		findings = append(findings, fmt.Sprintf("Site could not be verified (risk service returned %d); result based on domain analysis", status))
	} else {
		findings = append(findings, "Site could not be verified (risk service unreachable); result based on domain analysis")
	}
	return risk.NewResult(verdict.Score, findings, risk.SourceHeuristic)
}
