package translation

import (
	"context"
	goerrors "errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/adverant/nexus/mangatrans-worker/internal/errors"
)

const (
	defaultChatModel     = "gpt-3.5-turbo"
	defaultChatMaxTokens = 200
)

// ChatConfig configures a ChatProvider. BaseURL may point at any
// OpenAI-compatible endpoint (OpenRouter, Meta Llama gateways, ...).
type ChatConfig struct {
	Name        string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int64
	HTTPClient  *http.Client
}

// ChatProvider translates through a chat completion model.
type ChatProvider struct {
	name        string
	model       string
	temperature float64
	maxTokens   int64
	client      openai.Client
}

// NewChatProvider creates a chat completion provider.
func NewChatProvider(cfg ChatConfig) (*ChatProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("chat provider %q: api key is required", cfg.Name)
	}
	if cfg.Name == "" {
		cfg.Name = "chat"
	}
	if cfg.Model == "" {
		cfg.Model = defaultChatModel
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultChatMaxTokens
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// The chain owns fallback; one request per provider.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &ChatProvider{
		name:        cfg.Name,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      openai.NewClient(opts...),
	}, nil
}

func (c *ChatProvider) Name() string { return c.name }

func (c *ChatProvider) Translate(ctx context.Context, text string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(chatPrompt(text)),
		},
		Model:       openai.ChatModel(c.model),
		Temperature: openai.Float(c.temperature),
		MaxTokens:   openai.Int(c.maxTokens),
	})
	if err != nil {
		return "", errors.NewProviderTransportError(c.name, mapChatError(err))
	}
	if len(resp.Choices) == 0 {
		return "", errors.NewProviderTransportError(c.name, fmt.Errorf("no choices in response"))
	}

	return cleanChatReply(resp.Choices[0].Message.Content), nil
}

func chatPrompt(text string) string {
	return "Translate the following Chinese text to English. " +
		"Keep the translation natural and contextual, maintaining any manga/comic style expressions:\n\n" +
		"Chinese: " + text + "\n\nEnglish translation:"
}

var replyPrefixes = []string{"english translation:", "translation:"}

// cleanChatReply strips the label and quotes models like to echo back.
func cleanChatReply(reply string) string {
	reply = strings.TrimSpace(reply)
	for _, prefix := range replyPrefixes {
		if len(reply) >= len(prefix) && strings.EqualFold(reply[:len(prefix)], prefix) {
			reply = strings.TrimSpace(reply[len(prefix):])
			break
		}
	}
	return strings.TrimSpace(strings.Trim(reply, "\"'“”"))
}

func mapChatError(err error) error {
	var apiErr *openai.Error
	if goerrors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return fmt.Errorf("chat completion error (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("chat completion error (status %d)", apiErr.StatusCode)
	}
	return err
}
