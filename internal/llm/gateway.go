package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"darkhold/internal/metrics"
)

// Gateway calls the primary model and retries exactly once on the fallback
// model when the primary call fails for any reason.
type Gateway struct {
	gen      Generator
	primary  string
	fallback string
	timeout  time.Duration
	log      *zap.Logger
	metrics  *metrics.Metrics
}

type GatewayOption func(*Gateway)

// WithTimeout bounds every single model call. Zero disables the bound.
func WithTimeout(d time.Duration) GatewayOption { return func(g *Gateway) { g.timeout = d } }

func WithLogger(l *zap.Logger) GatewayOption { return func(g *Gateway) { g.log = l } }

func WithMetrics(m *metrics.Metrics) GatewayOption { return func(g *Gateway) { g.metrics = m } }

func NewGateway(gen Generator, primary, fallback string, opts ...GatewayOption) *Gateway {
	g := &Gateway{gen: gen, primary: primary, fallback: fallback, log: zap.NewNop()}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gateway) Generate(ctx context.Context, prompt string) (Result, error) {
	text, err := g.call(ctx, g.primary, prompt)
	if err == nil {
		g.metrics.Backend(metrics.BackendLLM, metrics.OutcomeOK)
		return result(text, g.primary, false), nil
	}
	g.log.Warn("generation_primary_failed", zap.String("model", g.primary), zap.Error(err))

	text, ferr := g.call(ctx, g.fallback, prompt)
	if ferr == nil {
		g.metrics.Backend(metrics.BackendLLM, metrics.OutcomeFallback)
		return result(text, g.fallback, true), nil
	}
	g.log.Error("generation_fallback_failed", zap.String("model", g.fallback), zap.Error(ferr))
	g.metrics.Backend(metrics.BackendLLM, metrics.OutcomeError)
	return Result{}, fmt.Errorf("%w: %w", ErrGenerationFailed, errors.Join(err, ferr))
}

func (g *Gateway) call(ctx context.Context, model, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	text, err := g.gen.Generate(ctx, model, prompt)
	if err != nil {
		return "", fmt.Errorf("model %s: %w", model, err)
	}
	return text, nil
}

func result(text, model string, fallback bool) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Text: ObscuredText, Model: model, Fallback: fallback, Placeholder: true}
	}
	return Result{Text: text, Model: model, Fallback: fallback}
}
