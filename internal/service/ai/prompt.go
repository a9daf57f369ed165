package ai

import (
	"strings"
)

// PromptTemplate defines the structure of the system instruction sent with
// every generation request.
type PromptTemplate struct {
	SystemPrompt string
	ContextRules []string
}

// defaultContextRules describe how replies are displayed by the chat client.
var defaultContextRules = []string{
	"Replies are rendered as Markdown in a browser chat window; headings, lists, emphasis and fenced code blocks are supported.",
	"Raw HTML in replies is not rendered, so never rely on it.",
	"Earlier turns of this conversation are provided as history; answer the latest user message.",
}

// NewPromptTemplate builds the default template around base.
func NewPromptTemplate(base string) *PromptTemplate {
	return &PromptTemplate{
		SystemPrompt: strings.TrimSpace(base),
		ContextRules: append([]string(nil), defaultContextRules...),
	}
}

// BuildSystemPrompt joins the base prompt and the context rules.
func (t *PromptTemplate) BuildSystemPrompt() string {
	if len(t.ContextRules) == 0 {
		return t.SystemPrompt
	}

	var b strings.Builder
	b.WriteString(t.SystemPrompt)
	b.WriteString("\n\nRules:\n- ")
	b.WriteString(strings.Join(t.ContextRules, "\n- "))
	return b.String()
}
