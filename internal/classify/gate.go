package classify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"replybot/internal/stats"
)

// Skip reasons produced by the gate.
const (
	ReasonPrefilter = "prefilter"
	ReasonAmbiguous = "ambiguous"
)

// Decision is the gate's verdict for one candidate text.
type Decision struct {
	Admissible bool
	Reason     string
	Label      string
	Confidence float64
}

// Classifier is the AI service capability the gate depends on.
type Classifier interface {
	Classify(ctx context.Context, text string, labels []string) (Result, error)
}

// GateConfig configures the classification gate.
type GateConfig struct {
	Enabled          bool
	PreFilter        bool
	PositiveKeywords []string
	NegativeKeywords []string
	Labels           []string
	TargetLabel      string
	Threshold        float64
	CacheTTL         time.Duration
}

// Gate runs the per-candidate admission pipeline: prefilter, cache lookup,
// AI call, threshold decision. On AI failure it fails open: the candidate
// proceeds as admissible rather than being blocked by an outage.
type Gate struct {
	cfg    GateConfig
	cache  *Cache
	client Classifier
	stats  *stats.Stats
	log    *zap.Logger
}

// NewGate builds a gate. client may be nil when AI is disabled.
func NewGate(cfg GateConfig, client Classifier, st *stats.Stats, log *zap.Logger) *Gate {
	return &Gate{
		cfg:    cfg,
		cache:  NewCache(cfg.CacheTTL),
		client: client,
		stats:  st,
		log:    log,
	}
}

// Decide evaluates text and returns whether a reply attempt may proceed.
func (g *Gate) Decide(ctx context.Context, text string) Decision {
	normalized := Normalize(text)

	if g.cfg.PreFilter && !PassesPrefilter(normalized, g.cfg.PositiveKeywords, g.cfg.NegativeKeywords) {
		g.stats.Inc(stats.SkipKeyword)
		return Decision{Admissible: false, Reason: ReasonPrefilter}
	}

	if !g.cfg.Enabled || g.client == nil {
		// Synthetic full-confidence label when AI is off.
		return Decision{Admissible: true, Label: g.cfg.TargetLabel, Confidence: 1.0}
	}

	label, confidence, cached := g.cache.Get(normalized)
	if !cached {
		res, err := g.client.Classify(ctx, text, g.cfg.Labels)
		if err != nil {
			g.stats.Inc(stats.AIFallback)
			g.log.Warn("AI classification unavailable; proceeding without filter",
				zap.Error(err))
			return Decision{Admissible: true}
		}
		label, confidence = res.Label, res.Confidence
		g.cache.Put(normalized, label, confidence)
	}

	if label != g.cfg.TargetLabel || confidence < g.cfg.Threshold {
		g.stats.Inc(stats.Ambiguous)
		return Decision{Admissible: false, Reason: ReasonAmbiguous, Label: label, Confidence: confidence}
	}
	return Decision{Admissible: true, Label: label, Confidence: confidence}
}
