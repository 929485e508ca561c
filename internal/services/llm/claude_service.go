package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/common"
	"github.com/ternarybob/labnex/internal/interfaces"
)

const (
	defaultClaudeModel = "claude-haiku-4-5"
	claudeMaxTokens    = 256
)

// ClaudeService implements interfaces.LLMService on the Anthropic Messages API
type ClaudeService struct {
	model   string
	timeout time.Duration
	client  anthropic.Client
	logger  arbor.ILogger
}

var _ interfaces.LLMService = (*ClaudeService)(nil)

// convertMessagesToClaude splits out the first system message and maps the rest
// to Claude message params. At least one user message is required.
func convertMessagesToClaude(messages []interfaces.Message) ([]anthropic.MessageParam, string, error) {
	if err := requireUserMessage(messages); err != nil {
		return nil, "", err
	}

	out := make([]anthropic.MessageParam, 0, len(messages))
	var systemText string
	for _, msg := range messages {
		switch msg.Role {
		case interfaces.RoleSystem:
			if systemText == "" {
				systemText = msg.Content
			}
		case interfaces.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return out, systemText, nil
}

// NewClaudeService creates a Claude client from the llm config section
func NewClaudeService(cfg common.LLMConfig, logger arbor.ILogger) (*ClaudeService, error) {
	if cfg.ClaudeAPIKey == "" {
		return nil, fmt.Errorf("%w: claude api key is required (set LABNEX_CLAUDE_API_KEY, ANTHROPIC_API_KEY or llm.claude_api_key)", ErrNotConfigured)
	}

	model := cfg.ClaudeModel
	if model == "" {
		model = defaultClaudeModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	s := &ClaudeService{
		model:   model,
		timeout: timeout,
		client:  anthropic.NewClient(option.WithAPIKey(cfg.ClaudeAPIKey)),
		logger:  logger,
	}

	logger.Debug().
		Str("model", model).
		Dur("timeout", timeout).
		Msg("Claude selector assist initialized")

	return s, nil
}

// Name returns the provider name
func (s *ClaudeService) Name() string {
	return string(common.LLMProviderClaude)
}

// Chat sends the conversation and returns the concatenated text blocks of the reply
func (s *ClaudeService) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	claudeMessages, systemText, err := convertMessagesToClaude(messages)
	if err != nil {
		return "", fmt.Errorf("failed to convert messages to Claude format: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: claudeMaxTokens,
		Messages:  claudeMessages,
	}
	if systemText != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemText}}
	}

	started := time.Now()
	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		s.logger.Warn().Err(err).Str("model", s.model).Msg("Claude request failed")
		return "", fmt.Errorf("claude api call failed: %w", err)
	}

	var reply strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			reply.WriteString(block.Text)
		}
	}
	if reply.Len() == 0 {
		return "", fmt.Errorf("claude returned no text")
	}

	s.logger.Debug().
		Int("response_length", reply.Len()).
		Dur("duration", time.Since(started)).
		Msg("Claude chat completed")

	return reply.String(), nil
}

// Close is a no-op; the HTTP client needs no teardown
func (s *ClaudeService) Close() error {
	return nil
}
