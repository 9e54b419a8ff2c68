package toxicity

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("toxicity")

const DefaultThreshold = 0.85

type Score struct {
	Toxic           bool               `json:"toxic"`
	ConfidenceScore float64            `json:"confidence_score"`
	Categories      map[string]float64 `json:"categories"`
	// categories at or above the threshold, highest score first
	ReasonCodes     []string `json:"reason_codes"`
	MatchedPatterns []string `json:"matched_patterns,omitempty"`
}

func safeScore() *Score {
	return &Score{
		Categories:  map[string]float64{},
		ReasonCodes: []string{},
	}
}

type ClassifierConfig struct {
	Enabled   bool
	Threshold float64
	Rules     *RuleSet

	// when both are set, text is scored by the Perspective API instead of
	// the local rules
	PerspectiveURL string
	PerspectiveKey string
	// requests per second allowed against the Perspective API
	PerspectiveRPS float64
	HTTPClient     *http.Client

	Logger *slog.Logger
}

type Classifier struct {
	enabled     bool
	threshold   float64
	rules       *RuleSet
	perspective *perspectiveClient
	logger      *slog.Logger
}

func NewClassifier(cfg ClassifierConfig) *Classifier {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "toxicity")

	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	c := &Classifier{
		enabled:   cfg.Enabled,
		threshold: cfg.Threshold,
		rules:     cfg.Rules,
		logger:    logger,
	}
	if cfg.PerspectiveURL != "" && cfg.PerspectiveKey != "" {
		c.perspective = newPerspectiveClient(cfg.PerspectiveURL, cfg.PerspectiveKey, cfg.PerspectiveRPS, cfg.HTTPClient, logger)
	}
	if c.rules == nil && c.perspective == nil && c.enabled {
		logger.Warn("toxicity classifier enabled without rules or perspective api; all content will pass")
	}
	return c
}

func (c *Classifier) Threshold() float64 {
	return c.threshold
}

// Classify scores content. A disabled classifier, or one with nothing to
// score with, reports every input as safe.
func (c *Classifier) Classify(ctx context.Context, content string) (*Score, error) {
	ctx, span := tracer.Start(ctx, "Classify")
	defer span.End()

	if !c.enabled {
		return safeScore(), nil
	}

	start := time.Now()
	var (
		score  *Score
		err    error
		source = "rules"
	)
	if c.perspective != nil {
		source = "perspective"
		score, err = c.classifyPerspective(ctx, content)
	} else {
		score = c.classifyRules(content)
	}
	classifyDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	if err != nil {
		classifyErrors.WithLabelValues(source).Inc()
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("toxic", score.Toxic),
		attribute.Float64("confidence", score.ConfidenceScore),
	)
	classifications.WithLabelValues(source, boolLabel(score.Toxic)).Inc()
	return score, nil
}

func (c *Classifier) classifyRules(content string) *Score {
	if c.rules == nil || c.rules.isWhitelisted(content) {
		return safeScore()
	}

	normalized := NormalizeText(content)
	multiplier := contextMultiplier(content)

	sums := make(map[string]float64)
	var matched []string
	for _, r := range c.rules.Rules {
		if r.re == nil || !r.re.MatchString(normalized) {
			continue
		}
		sums[string(r.Category)] += r.Weight
		matched = append(matched, r.Pattern)
	}

	for cat, s := range sums {
		s *= multiplier
		if s > 1.0 {
			s = 1.0
		}
		sums[cat] = s
	}
	out := c.summarize(sums)
	out.MatchedPatterns = matched
	return out
}

// summarize derives confidence, toxicity and ordered reason codes from
// per-category scores in [0,1].
func (c *Classifier) summarize(categories map[string]float64) *Score {
	out := &Score{
		Categories:  categories,
		ReasonCodes: []string{},
	}
	for cat, s := range categories {
		if s > out.ConfidenceScore {
			out.ConfidenceScore = s
		}
		if s >= c.threshold {
			out.ReasonCodes = append(out.ReasonCodes, cat)
		}
	}
	sort.Slice(out.ReasonCodes, func(i, j int) bool {
		a, b := out.ReasonCodes[i], out.ReasonCodes[j]
		if categories[a] != categories[b] {
			return categories[a] > categories[b]
		}
		return a < b
	})
	out.Toxic = out.ConfidenceScore >= c.threshold
	return out
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
