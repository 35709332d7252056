// Package risk assesses message risk through two independent paths: a
// deterministic keyword path that always runs, and an optional external
// classifier. Results merge to the maximum severity, so a collaborator
// failure can only raise the outcome, never lower it.
package risk

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/agnivade/levenshtein"

	"github.com/careline-ai/careline/internal/logging"
	"github.com/careline-ai/careline/pkg/types"
)

// ErrClassifierTimeout reports that the external classifier did not answer
// within the configured deadline. The monitor treats it as a degraded
// assessment, not a failure.
var ErrClassifierTimeout = errors.New("risk classifier timed out")

// degradedConfidence is reported when the classifier is unavailable and the
// degraded floor decides the verdict.
const degradedConfidence = 0.5

// Classifier is the external risk-classification collaborator. Classify
// receives sanitized text only and returns its own severity estimate with a
// confidence in [0, 1].
type Classifier interface {
	Classify(ctx context.Context, text string) (types.Severity, float64, error)
}

// Monitor assesses sanitized message text. It is immutable after construction
// and safe for concurrent use.
type Monitor struct {
	pack       *rulePack
	classifier Classifier
	timeout    time.Duration
	degradedTo types.Severity
}

// NewMonitor builds a monitor over the embedded keyword pack. classifier may
// be nil, in which case only the keyword path runs.
func NewMonitor(cfg types.RiskConfig, classifier Classifier) (*Monitor, error) {
	return NewMonitorFromPack(cfg, classifier, defaultKeywords)
}

// NewMonitorFromPack builds a monitor over a caller-supplied keyword pack.
func NewMonitorFromPack(cfg types.RiskConfig, classifier Classifier, packData []byte) (*Monitor, error) {
	pack, err := compileKeywordPack(packData)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		pack:       pack,
		classifier: classifier,
		timeout:    cfg.ClassifierTimeout.Std(),
		degradedTo: cfg.DegradedSeverity,
	}, nil
}

// Assess evaluates text and returns a verdict. It never returns an error:
// classifier problems surface as a degraded verdict floored at the configured
// severity. history is the session's prior verdicts, newest last.
func (m *Monitor) Assess(ctx context.Context, text string, history []types.RiskVerdict) types.RiskVerdict {
	severity, conf, signals := m.keywordPath(text)

	verdict := types.RiskVerdict{
		Severity:   severity,
		Confidence: conf,
		Signals:    signals,
		Time:       time.Now().UnixMilli(),
	}

	// The classifier can only raise the outcome, so when the keyword path is
	// already at the ceiling there is nothing left to ask it.
	if m.classifier != nil && verdict.Severity < types.SeverityCritical {
		clSev, clConf, err := m.classify(ctx, text)
		switch {
		case err != nil:
			verdict.Degraded = true
			verdict.Signals = append(verdict.Signals, types.RiskSignal{
				ID:       "classifier:degraded",
				Category: types.RiskOther,
				Severity: m.degradedTo,
				Source:   "classifier",
			})
			if m.degradedTo > verdict.Severity {
				verdict.Severity = m.degradedTo
				verdict.Confidence = degradedConfidence
			}
			logging.Warn().Err(err).Int("textLen", len(text)).Msg("risk classifier degraded")
		default:
			verdict.Signals = append(verdict.Signals, types.RiskSignal{
				ID:       "classifier",
				Category: types.RiskOther,
				Severity: clSev,
				Source:   "classifier",
			})
			if clSev > verdict.Severity {
				verdict.Severity = clSev
				verdict.Confidence = clConf
			} else if clSev == verdict.Severity && clConf > verdict.Confidence {
				verdict.Confidence = clConf
			}
		}
	}

	// A session that already reached HIGH stays sensitive: borderline MEDIUM
	// verdicts are read in that context.
	if verdict.Severity == types.SeverityMedium && highestPrior(history) >= types.SeverityHigh {
		verdict.Severity = types.SeverityHigh
	}

	return verdict
}

// keywordPath runs keywords, fuzzy terms, and patterns, then applies modifier
// bumps and hedge discounting.
func (m *Monitor) keywordPath(text string) (types.Severity, float64, []types.RiskSignal) {
	severity := types.SeverityNone
	var signals []types.RiskSignal

	for _, kw := range m.pack.keywords {
		if kw.re.MatchString(text) {
			signals = append(signals, types.RiskSignal{
				ID:       "kw:" + kw.term,
				Category: kw.category,
				Severity: kw.severity,
				Source:   "keyword",
			})
			severity = types.MaxSeverity(severity, kw.severity)
		}
	}

	for _, p := range m.pack.patterns {
		if p.re.MatchString(text) {
			signals = append(signals, types.RiskSignal{
				ID:       "pat:" + p.id,
				Category: p.category,
				Severity: p.severity,
				Source:   "keyword",
			})
			severity = types.MaxSeverity(severity, p.severity)
		}
	}

	if len(m.pack.fuzzy) > 0 {
		words := tokenize(text)
		for _, f := range m.pack.fuzzy {
			for _, w := range words {
				// Exact occurrences are the keyword rules' business.
				if w == f.term {
					continue
				}
				if abs(len(w)-len(f.term)) > 1 {
					continue
				}
				if levenshtein.ComputeDistance(w, f.term) == 1 {
					signals = append(signals, types.RiskSignal{
						ID:       "fuzzy:" + f.term,
						Category: f.category,
						Severity: f.severity,
						Source:   "keyword",
					})
					severity = types.MaxSeverity(severity, f.severity)
					break
				}
			}
		}
	}

	if len(signals) == 0 {
		return types.SeverityNone, 0, nil
	}

	// Each modifier class present bumps the verdict one tier. A modifier on
	// its own is not risk, hence the gate on existing signals.
	for _, mod := range m.pack.modifiers {
		for _, re := range mod.terms {
			if re.MatchString(text) {
				if severity < types.SeverityCritical {
					severity++
				}
				signals = append(signals, types.RiskSignal{
					ID:       "mod:" + mod.name,
					Category: types.RiskOther,
					Severity: severity,
					Source:   "keyword",
				})
				break
			}
		}
	}

	return severity, m.confidence(len(signals), text), signals
}

// confidence grows with corroborating signals and shrinks when hedging
// language is present. Hedges never change severity.
func (m *Monitor) confidence(signals int, text string) float64 {
	c := 0.6 + 0.15*float64(signals-1)
	for _, h := range m.pack.hedges {
		if h.MatchString(text) {
			c -= 0.2
			break
		}
	}
	if c > 0.95 {
		c = 0.95
	}
	if c < 0.1 {
		c = 0.1
	}
	return c
}

func (m *Monitor) classify(ctx context.Context, text string) (types.Severity, float64, error) {
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	type result struct {
		severity   types.Severity
		confidence float64
		err        error
	}
	ch := make(chan result, 1)
	go func() {
		sev, conf, err := m.classifier.Classify(cctx, text)
		ch <- result{severity: sev, confidence: conf, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return 0, 0, ErrClassifierTimeout
			}
			return 0, 0, res.err
		}
		return res.severity, res.confidence, nil
	case <-cctx.Done():
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return 0, 0, ErrClassifierTimeout
		}
		return 0, 0, cctx.Err()
	}
}

func highestPrior(history []types.RiskVerdict) types.Severity {
	highest := types.SeverityNone
	for _, v := range history {
		highest = types.MaxSeverity(highest, v.Severity)
	}
	return highest
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
