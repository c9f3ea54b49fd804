package provider

import (
	"context"
	"fmt"

	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// ChatTuning holds shared generation parameters for completion calls.
type ChatTuning struct {
	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// DefaultChatTuning is used when the caller passes a zero ChatTuning.
var DefaultChatTuning = ChatTuning{MaxTokens: 4096, Temperature: 0.2}

// NewChatModel constructs an eino chat model for the resolved provider.
// Self-hosted backends use the Ollama wire format; everything else speaks
// the OpenAI wire format against the configured base address.
func NewChatModel(ctx context.Context, cfg Config, tuning ChatTuning) (model.ToolCallingChatModel, error) {
	if tuning.MaxTokens <= 0 {
		tuning.MaxTokens = DefaultChatTuning.MaxTokens
	}
	if tuning.Temperature <= 0 {
		tuning.Temperature = DefaultChatTuning.Temperature
	}

	switch cfg.Kind {
	case KindSelfHosted:
		v, err := einoollama.NewChatModel(ctx, &einoollama.ChatModelConfig{ //nolint:wrapcheck // constructor passthrough
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
		return v, err
	case KindOpenAI, KindOpenAICompatible:
		v, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{ //nolint:wrapcheck // constructor passthrough
			Model:       cfg.Model,
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   &tuning.MaxTokens,
			Temperature: &tuning.Temperature,
		})
		return v, err
	default:
		return nil, fmt.Errorf("provider: unknown kind %q", cfg.Kind)
	}
}
