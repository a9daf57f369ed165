package ai

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/tavern-chat/internal/model/chat"
)

type fakeChatModel struct {
	chunks []string
	input  []*schema.Message
}

func (m *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.input = input
	return schema.AssistantMessage(strings.Join(m.chunks, ""), nil), nil
}

func (m *fakeChatModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.input = input
	msgs := make([]*schema.Message, 0, len(m.chunks))
	for _, c := range m.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func TestArkGeneratorStreamsTextChunks(t *testing.T) {
	ctx := context.Background()
	fake := &fakeChatModel{chunks: []string{"Hi", "", " there"}}
	gen, err := newArkGenerator(ctx, fake, "system {not a var}")
	require.NoError(t, err)

	history := chat.Transcript{
		chat.NewTextTurn(chat.RoleUser, "earlier"),
		chat.NewTextTurn(chat.RoleModel, "reply"),
	}
	sr, err := gen.Stream(ctx, history, "hello")
	require.NoError(t, err)
	defer sr.Close()

	var got []string
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, chunk)
	}
	assert.Equal(t, []string{"Hi", " there"}, got)

	require.Len(t, fake.input, 4)
	assert.Equal(t, schema.System, fake.input[0].Role)
	assert.Equal(t, "system {not a var}", fake.input[0].Content)
	assert.Equal(t, schema.User, fake.input[1].Role)
	assert.Equal(t, "earlier", fake.input[1].Content)
	assert.Equal(t, schema.Assistant, fake.input[2].Role)
	assert.Equal(t, schema.User, fake.input[3].Role)
	assert.Equal(t, "hello", fake.input[3].Content)
}

func TestPromptTemplateBuildSystemPrompt(t *testing.T) {
	tpl := NewPromptTemplate("  You are helpful.  ")
	out := tpl.BuildSystemPrompt()
	assert.True(t, strings.HasPrefix(out, "You are helpful."))
	assert.Contains(t, out, "Markdown")

	tpl.ContextRules = nil
	assert.Equal(t, "You are helpful.", tpl.BuildSystemPrompt())
}
