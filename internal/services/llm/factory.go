package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/common"
	"github.com/ternarybob/labnex/internal/interfaces"
)

const defaultTimeout = 30 * time.Second

// ErrNotConfigured is returned when the selected provider lacks credentials
var ErrNotConfigured = errors.New("llm provider not configured")

// NewLLMService creates the chat client for cfg.Provider. It returns nil and no
// error when no provider is configured, which disables selector assist.
func NewLLMService(ctx context.Context, cfg common.LLMConfig, logger arbor.ILogger) (interfaces.LLMService, error) {
	switch cfg.Provider {
	case common.LLMProviderNone:
		logger.Debug().Msg("No LLM provider configured, selector assist disabled")
		return nil, nil
	case common.LLMProviderClaude:
		svc, err := NewClaudeService(cfg, logger)
		if err != nil {
			return nil, err
		}
		return svc, nil
	case common.LLMProviderGemini:
		svc, err := NewGeminiService(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

func requireUserMessage(messages []interfaces.Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("messages cannot be empty")
	}
	for _, msg := range messages {
		if msg.Role == interfaces.RoleUser {
			return nil
		}
	}
	return fmt.Errorf("at least one message must have role 'user'")
}
