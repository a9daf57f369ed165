package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/tavern-chat/internal/config"
	"github.com/zhouzirui/tavern-chat/internal/model/chat"
)

// Generator is the language-model collaborator. Stream sends history followed
// by query as the live prompt and returns the reply as a finite sequence of
// text chunks: Recv yields chunks in production order and io.EOF at the end.
// Closing the reader, or cancelling ctx, stops the upstream request.
type Generator interface {
	Stream(ctx context.Context, history chat.Transcript, query string) (*schema.StreamReader[string], error)
}

// NewGenerator builds the generator selected by cfg.Provider.
func NewGenerator(ctx context.Context, cfg config.AIConfig) (Generator, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%s credentials not configured", cfg.Provider)
	}

	switch cfg.Provider {
	case config.ProviderArk:
		return NewArkGenerator(ctx, cfg)
	case config.ProviderGemini, "":
		return NewGeminiGenerator(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
