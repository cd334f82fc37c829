package llm

import (
	"os"
	"time"

	"go.uber.org/zap"
)

const (
	// EnvMode is the environment variable name for mode selection.
	EnvMode = "TURNGATE_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"

	// ProviderLiteLLM selects the plain OpenAI-compatible HTTP client.
	ProviderLiteLLM = "litellm"
	// ProviderOpenAI selects the go-openai SDK client.
	ProviderOpenAI = "openai"
)

// Options selects and configures an LLMClient.
type Options struct {
	Provider string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	Mock     bool
}

// NewLLMClient creates an LLM client. TURNGATE_MODE=MOCK or opts.Mock
// returns a MockClient; otherwise the provider picks the transport.
func NewLLMClient(opts Options, logger *zap.Logger) LLMClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Mock || os.Getenv(EnvMode) == ModeMock {
		logger.Info("mock mode enabled, using mock LLM client")
		return NewMockClient()
	}

	switch opts.Provider {
	case ProviderOpenAI:
		logger.Info("using go-openai client", zap.String("base_url", opts.BaseURL))
		return NewOpenAIClient(opts.BaseURL, opts.APIKey, opts.Timeout)
	case "", ProviderLiteLLM:
	default:
		logger.Warn("unknown oracle provider, falling back to litellm", zap.String("provider", opts.Provider))
	}
	return NewClient(opts.BaseURL, opts.APIKey, opts.Timeout)
}
