// Package explain produces prose explanations for risk verdicts. It is an
// optional collaborator: verdicts are complete without it.
package explain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/inodb/vibe-pgx/internal/genotype"
	"github.com/inodb/vibe-pgx/internal/risk"
)

// ErrUnavailable is returned when the provider is disabled or its circuit
// breaker is open.
var ErrUnavailable = errors.New("explanation provider unavailable")

// Request carries one verdict and the variants that produced it.
type Request struct {
	Verdict  risk.Verdict
	RsIDs    []string
	Variants []genotype.Evidence
}

// Explanation is the prose for one verdict.
type Explanation struct {
	Summary         string `json:"summary"`
	Mechanism       string `json:"mechanism"`
	VariantImpact   string `json:"variant_impact"`
	ClinicalContext string `json:"clinical_context"`
	Monitoring      string `json:"monitoring_parameters"`
	Model           string `json:"model_used"`
}

// Explainer turns a verdict into prose.
type Explainer interface {
	Explain(ctx context.Context, req Request) (*Explanation, error)
}

// Config holds explanation provider configuration.
type Config struct {
	// Provider name: "openai", "template", or "" to disable.
	Provider  string        `mapstructure:"provider"`
	Model     string        `mapstructure:"model"`
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxTokens int           `mapstructure:"max_tokens"`
	// Rate is the request rate limit per second; 0 means unlimited.
	Rate     float64       `mapstructure:"rate"`
	Burst    int           `mapstructure:"burst"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// Attempts bounds calls per explanation; RetryBackoff doubles after
	// each failed attempt.
	Attempts     int           `mapstructure:"attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// DefaultConfig returns the explanation defaults (disabled).
func DefaultConfig() Config {
	return Config{
		Model:        "gpt-4o-mini",
		Timeout:      30 * time.Second,
		MaxTokens:    1024,
		Rate:         2,
		Burst:        4,
		CacheTTL:     time.Hour,
		Attempts:     3,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// New builds the explainer chain for cfg. A networked provider is wrapped in
// a rate limiter, bounded retry and circuit breaker, cached, and backed by
// the template explainer. Returns nil when explanations are disabled.
func New(cfg Config, logger *zap.Logger) (Explainer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(cfg.Provider) {
	case "", "none":
		return nil, nil

	case "template":
		return Template{}, nil

	case "openai":
		p, err := NewOpenAI(cfg)
		if err != nil {
			return nil, err
		}
		resilient := NewResilient(p, cfg.Rate, cfg.Burst)
		resilient.SetRetry(cfg.Attempts, cfg.RetryBackoff)
		resilient.SetLogger(logger)
		cached := NewCached(resilient, cfg.CacheTTL)
		return NewFallback(cached, Template{}, logger), nil

	default:
		return nil, fmt.Errorf("unknown explanation provider: %s (supported: openai, template)", cfg.Provider)
	}
}

// Fallback answers from Secondary whenever Primary fails.
type Fallback struct {
	primary   Explainer
	secondary Explainer
	logger    *zap.Logger
}

// NewFallback creates a fallback explainer.
func NewFallback(primary, secondary Explainer, logger *zap.Logger) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

// Explain implements Explainer.
func (f *Fallback) Explain(ctx context.Context, req Request) (*Explanation, error) {
	exp, err := f.primary.Explain(ctx, req)
	if err == nil {
		return exp, nil
	}
	f.logger.Warn("explanation provider failed, using fallback",
		zap.String("drug", req.Verdict.Drug),
		zap.Error(err))
	return f.secondary.Explain(ctx, req)
}
