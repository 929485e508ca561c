package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/labnex/internal/common"
	"github.com/ternarybob/labnex/internal/interfaces"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiService implements interfaces.LLMService on the Gemini API
type GeminiService struct {
	model   string
	timeout time.Duration
	retry   *RetryPolicy
	client  *genai.Client
	logger  arbor.ILogger
}

var _ interfaces.LLMService = (*GeminiService)(nil)

// convertMessagesToGemini maps messages to Gemini contents, returning the first
// system message separately for SystemInstruction
func convertMessagesToGemini(messages []interfaces.Message) ([]*genai.Content, string, error) {
	if err := requireUserMessage(messages); err != nil {
		return nil, "", err
	}

	contents := make([]*genai.Content, 0, len(messages))
	var systemText string
	for _, msg := range messages {
		role := genai.RoleUser
		switch msg.Role {
		case interfaces.RoleSystem:
			if systemText == "" {
				systemText = msg.Content
			}
			continue
		case interfaces.RoleAssistant:
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{genai.NewPartFromText(msg.Content)},
		})
	}
	return contents, systemText, nil
}

// NewGeminiService creates a Gemini client from the llm config section
func NewGeminiService(ctx context.Context, cfg common.LLMConfig, logger arbor.ILogger) (*GeminiService, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is required (set LABNEX_GEMINI_API_KEY, GOOGLE_API_KEY or llm.gemini_api_key)", ErrNotConfigured)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	model := cfg.GeminiModel
	if model == "" {
		model = defaultGeminiModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	logger.Debug().
		Str("model", model).
		Dur("timeout", timeout).
		Msg("Gemini selector assist initialized")

	return &GeminiService{
		model:   model,
		timeout: timeout,
		retry:   NewDefaultRetryPolicy(),
		client:  client,
		logger:  logger,
	}, nil
}

// Name returns the provider name
func (s *GeminiService) Name() string {
	return string(common.LLMProviderGemini)
}

// Chat generates a reply, retrying rate-limited calls with the API-suggested delay
func (s *GeminiService) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	contents, systemText, err := convertMessagesToGemini(messages)
	if err != nil {
		return "", fmt.Errorf("failed to convert messages to Gemini format: %w", err)
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	}
	if systemText != "" {
		config.SystemInstruction = genai.NewContentFromText(systemText, genai.RoleUser)
	}

	var lastErr error
	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.retry.CalculateBackoff(attempt-1, ExtractRetryDelay(lastErr))
			s.logger.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Gemini rate limited, retrying")

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		reply, err := s.generate(ctx, contents, config)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !IsRateLimitError(err) {
			break
		}
	}

	return "", fmt.Errorf("gemini chat failed: %w", lastErr)
}

func (s *GeminiService) generate(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, config)
	if err != nil {
		return "", err
	}

	var reply strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				reply.WriteString(part.Text)
			}
			if reply.Len() > 0 {
				break
			}
		}
	}
	if reply.Len() == 0 {
		return "", fmt.Errorf("gemini returned no text")
	}
	return reply.String(), nil
}

// Close drops the client reference
func (s *GeminiService) Close() error {
	s.client = nil
	return nil
}
