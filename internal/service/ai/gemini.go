package ai

import (
	"context"
	"fmt"
	"iter"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/zhouzirui/tavern-chat/internal/config"
	"github.com/zhouzirui/tavern-chat/internal/model/chat"
)

// GeminiGenerator streams replies from the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// NewGeminiGenerator creates a Gemini client for cfg.GeminiModel.
func NewGeminiGenerator(ctx context.Context, cfg config.AIConfig) (*GeminiGenerator, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiGenerator{
		client: client,
		model:  cfg.GeminiModel,
		config: generationConfig(cfg),
	}, nil
}

// generationConfig is the fixed configuration sent with every request.
func generationConfig(cfg config.AIConfig) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(cfg.Temperature),
		TopP:             genai.Ptr(cfg.TopP),
		TopK:             genai.Ptr(cfg.TopK),
		MaxOutputTokens:  cfg.MaxOutputTokens,
		ResponseMIMEType: "text/plain",
	}
	if cfg.SystemInstruction != "" {
		prompt := NewPromptTemplate(cfg.SystemInstruction).BuildSystemPrompt()
		gc.SystemInstruction = genai.NewContentFromText(prompt, genai.RoleUser)
	}
	return gc
}

// Stream implements Generator.
func (g *GeminiGenerator) Stream(ctx context.Context, history chat.Transcript, query string) (*schema.StreamReader[string], error) {
	contents := toContents(history, query)
	log.Debug().
		Str("component", "ai").
		Str("model", g.model).
		Int("history", len(history)).
		Msg("opening gemini stream")
	return pipeResponses(ctx, g.client.Models.GenerateContentStream(ctx, g.model, contents, g.config)), nil
}

// toContents maps the prior transcript to provider history and appends query
// as the final user content.
func toContents(history chat.Transcript, query string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		role := genai.Role(genai.RoleUser)
		if turn.Role == chat.RoleModel {
			role = genai.RoleModel
		}
		parts := make([]*genai.Part, 0, len(turn.Parts))
		for _, p := range turn.Parts {
			parts = append(parts, genai.NewPartFromText(p.Text))
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return append(contents, genai.NewContentFromText(query, genai.RoleUser))
}

// pipeResponses drains seq on a goroutine into an eino stream. The goroutine
// stops at the end of seq, on the first error, or once the reader is closed.
func pipeResponses(ctx context.Context, seq iter.Seq2[*genai.GenerateContentResponse, error]) *schema.StreamReader[string] {
	sr, sw := schema.Pipe[string](0)

	go func() {
		defer sw.Close()
		for resp, err := range seq {
			if err != nil {
				sw.Send("", fmt.Errorf("gemini stream: %w", err))
				return
			}
			if ctx.Err() != nil {
				sw.Send("", ctx.Err())
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if closed := sw.Send(text, nil); closed {
				return
			}
		}
	}()

	return sr
}
