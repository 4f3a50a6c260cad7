package ai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

var languageNames = map[string]string{
	"ko": "Korean",
	"ja": "Japanese",
	"zh": "Chinese",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
}

// Translator turns English replies into the learner's language for captions.
type Translator struct {
	client *openai.Client
	model  string
	target string
}

// NewTranslator translates into target, an ISO 639-1 code such as "ko".
func NewTranslator(client *openai.Client, model, target string) *Translator {
	if model == "" {
		model = DefaultModel
	}
	return &Translator{client: client, model: model, target: target}
}

func (t *Translator) Target() string { return t.target }

func (t *Translator) Translate(ctx context.Context, text string) (string, error) {
	lang, ok := languageNames[t.target]
	if !ok {
		lang = t.target
	}
	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: t.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf("Translate the user's English text into %s. Reply with the translation only.", lang)},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("ai: translate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
