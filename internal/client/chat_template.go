package client

import (
	pongo "github.com/flosch/pongo2/v6"
)

// ChatRole identifies the speaker of a ChatMessage.
type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatMessage is one turn of a chat-style prompt, rendered into the flat
// text the tokenizer consumes via ChatTemplate.Render.
type ChatMessage struct {
	Role    ChatRole
	Content string
}

// defaultChatTemplate is a minimal Jinja-style chat template good enough
// for models that don't ship their own chat_template.jinja with the
// weights. Callers with a model-specific template should use
// NewChatTemplate with its text instead.
const defaultChatTemplate = `{% for message in messages %}
{% if message.role == "system" %}{{ message.content }}
{% elif message.role == "user" %}User: {{ message.content }}
{% elif message.role == "assistant" %}Assistant: {{ message.content }}
{% endif %}{% endfor %}{% if add_generation_prompt %}Assistant:{% endif %}`

// ChatTemplate renders a ChatMessage list into a flat prompt string via a
// pongo2 (Jinja-like) template, the same mechanism models on HuggingFace
// Hub ship as chat_template.jinja alongside their weights.
type ChatTemplate struct {
	tpl *pongo.Template
}

// NewChatTemplate compiles a Jinja chat template. Pass "" to use the
// built-in default.
func NewChatTemplate(jinja string) (*ChatTemplate, error) {
	if jinja == "" {
		jinja = defaultChatTemplate
	}
	tpl, err := pongo.FromString(jinja)
	if err != nil {
		return nil, err
	}
	return &ChatTemplate{tpl: tpl}, nil
}

// Render turns messages into the flat text to hand to Client.Tokenize.
func (c *ChatTemplate) Render(messages []ChatMessage) (string, error) {
	jmsgs := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		jmsgs = append(jmsgs, map[string]any{
			"role":    string(m.Role),
			"content": m.Content,
		})
	}
	return c.tpl.Execute(pongo.Context{
		"messages":              jmsgs,
		"add_generation_prompt": true,
	})
}
