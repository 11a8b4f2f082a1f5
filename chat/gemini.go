package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	APIKey       string
	Model        string // default "gemini-2.5-flash"
	BaseURL      string // optional endpoint override
	SystemPrompt string
	GoogleSearch bool // attach the Google Search grounding tool
}

// GeminiProvider streams replies from Google's Gemini API.
type GeminiProvider struct {
	client *genai.Client
	cfg    GeminiConfig
	log    *zap.Logger
}

// NewGeminiProvider creates a Gemini-backed provider.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig, log *zap.Logger) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if log == nil {
		log = zap.NewNop()
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiProvider{client: client, cfg: cfg, log: log}, nil
}

// Name returns the provider name shown in the panel header.
func (p *GeminiProvider) Name() string {
	return "gemini:" + p.cfg.Model
}

// Stream implements Provider.
func (p *GeminiProvider) Stream(ctx context.Context, history []Message, prompt string) iter.Seq2[Chunk, error] {
	contents := geminiContents(history, prompt)
	config := &genai.GenerateContentConfig{}
	if p.cfg.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(p.cfg.SystemPrompt, genai.RoleUser)
	}
	if p.cfg.GoogleSearch {
		config.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	return func(yield func(Chunk, error) bool) {
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.cfg.Model, contents, config) {
			if err != nil {
				p.log.Warn("gemini stream failed", zap.String("model", p.cfg.Model), zap.Error(err))
				yield(Chunk{}, classifyGenAIError(err))
				return
			}
			chunk := Chunk{Text: resp.Text(), Sources: geminiSources(resp)}
			if chunk.Text == "" && len(chunk.Sources) == 0 {
				continue
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// geminiContents maps the conversation onto Gemini turns; assistant messages
// become the "model" role.
func geminiContents(history []Message, prompt string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return append(contents, genai.NewContentFromText(prompt, genai.RoleUser))
}

func geminiSources(resp *genai.GenerateContentResponse) []Source {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return nil
	}
	var out []Source
	for _, gc := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		if gc == nil || gc.Web == nil {
			continue
		}
		out = append(out, Source{Title: gc.Web.Title, URL: gc.Web.URI})
	}
	return dedupeSources(out)
}

func classifyGenAIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return classifyStatus(apiErrPtr.Code, err)
	}
	return &Error{Kind: KindUnavailable, Err: err}
}
