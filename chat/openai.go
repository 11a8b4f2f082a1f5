package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIConfig configures an OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey       string
	Model        string // default "gpt-4o-mini"
	BaseURL      string // e.g. a self-hosted gateway
	SystemPrompt string
}

// OpenAIProvider streams replies from any OpenAI-compatible chat endpoint.
type OpenAIProvider struct {
	client *openai.Client
	cfg    OpenAIConfig
	log    *zap.Logger
}

// NewOpenAIProvider creates an OpenAI-backed provider.
func NewOpenAIProvider(cfg OpenAIConfig, log *zap.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if log == nil {
		log = zap.NewNop()
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		log:    log,
	}, nil
}

// Name returns the provider name shown in the panel header.
func (p *OpenAIProvider) Name() string {
	return "openai:" + p.cfg.Model
}

// Stream implements Provider.
func (p *OpenAIProvider) Stream(ctx context.Context, history []Message, prompt string) iter.Seq2[Chunk, error] {
	req := openai.ChatCompletionRequest{
		Model:    p.cfg.Model,
		Messages: openAIMessages(p.cfg.SystemPrompt, history, prompt),
		Stream:   true,
	}
	return func(yield func(Chunk, error) bool) {
		stream, err := p.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			p.log.Warn("openai stream failed", zap.String("model", p.cfg.Model), zap.Error(err))
			yield(Chunk{}, classifyOpenAIError(err))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Chunk{}, classifyOpenAIError(err))
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(Chunk{Text: resp.Choices[0].Delta.Content}, nil) {
				return
			}
		}
	}
}

func openAIMessages(system string, history []Message, prompt string) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, err)
	}
	return &Error{Kind: KindUnavailable, Err: err}
}
