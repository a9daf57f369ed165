package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/tavern-chat/internal/config"
	"github.com/zhouzirui/tavern-chat/internal/model/chat"
)

// ArkGenerator streams replies through an eino chain backed by a Volcengine
// Ark chat model.
type ArkGenerator struct {
	system string
	chain  compose.Runnable[map[string]any, *schema.Message]
}

// NewArkGenerator creates the Ark chat model and compiles the prompt chain.
func NewArkGenerator(ctx context.Context, cfg config.AIConfig) (*ArkGenerator, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return newArkGenerator(ctx, chatModel, NewPromptTemplate(cfg.SystemInstruction).BuildSystemPrompt())
}

func newArkGenerator(ctx context.Context, chatModel model.BaseChatModel, system string) (*ArkGenerator, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ArkGenerator{system: system, chain: runnable}, nil
}

// Stream implements Generator.
func (g *ArkGenerator) Stream(ctx context.Context, history chat.Transcript, query string) (*schema.StreamReader[string], error) {
	input := map[string]any{
		"system":  g.system,
		"history": historyMessages(history),
		"query":   query,
	}

	stream, err := g.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}

	return schema.StreamReaderWithConvert(stream, func(msg *schema.Message) (string, error) {
		if msg == nil || msg.Content == "" {
			return "", schema.ErrNoValue
		}
		return msg.Content, nil
	}), nil
}

func historyMessages(history chat.Transcript) []*schema.Message {
	if len(history) == 0 {
		return nil
	}

	messages := make([]*schema.Message, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case chat.RoleUser:
			messages = append(messages, schema.UserMessage(turn.Text()))
		case chat.RoleModel:
			messages = append(messages, schema.AssistantMessage(turn.Text(), nil))
		}
	}
	return messages
}
