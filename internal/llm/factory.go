package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"darkhold/internal/config"
	"darkhold/internal/metrics"
)

// NewGenerator creates the client for the configured provider.
func NewGenerator(ctx context.Context, cfg *config.Config) (Generator, error) {
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		return NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiBaseURL)
	case config.ProviderOpenAI:
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenRouterReferrer, cfg.OpenRouterTitle), nil
	case config.ProviderYandex:
		return NewYandex(cfg.YandexOAuthToken, cfg.YandexFolderID)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.LLMProvider)
	}
}

// NewGatewayFromConfig wires the configured provider behind the
// primary/fallback gateway.
func NewGatewayFromConfig(ctx context.Context, cfg *config.Config, log *zap.Logger, m *metrics.Metrics) (*Gateway, error) {
	gen, err := NewGenerator(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewGateway(gen, cfg.ModelPrimary, cfg.ModelFallback,
		WithTimeout(cfg.BackendTimeout),
		WithLogger(log),
		WithMetrics(m),
	), nil
}
