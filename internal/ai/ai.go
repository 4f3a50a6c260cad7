// Package ai generates tutor replies and caption translations with OpenAI chat
// completions.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/keshucs12345/voicecall/internal/session"
	"github.com/keshucs12345/voicecall/internal/tutor"
)

const (
	DefaultModel     = openai.GPT4oMini
	DefaultMaxTokens = 300
)

// ErrEmptyReply is returned when the model answers with no text.
var ErrEmptyReply = errors.New("ai: empty reply")

// Responder produces the tutor's next message.
type Responder struct {
	client    *openai.Client
	model     string
	maxTokens int
	log       zerolog.Logger
}

func NewResponder(client *openai.Client, model string, log zerolog.Logger) *Responder {
	if model == "" {
		model = DefaultModel
	}
	return &Responder{
		client:    client,
		model:     model,
		maxTokens: DefaultMaxTokens,
		log:       log.With().Str("component", "ai").Logger(),
	}
}

// Reply answers the conversation so far. An empty history asks for the
// opening greeting.
func (r *Responder) Reply(ctx context.Context, settings tutor.Settings, history []session.ConversationTurn) (string, error) {
	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt(settings)}}
	msgs = append(msgs, chatMessages(history)...)
	if len(msgs) == 1 {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: OpeningMessage})
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     r.model,
		MaxTokens: r.maxTokens,
		Messages:  msgs,
	})
	if err != nil {
		return "", fmt.Errorf("ai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyReply
	}
	r.log.Debug().Int("history", len(history)).Int("tokens", resp.Usage.TotalTokens).Msg("reply generated")
	return text, nil
}

func chatMessages(history []session.ConversationTurn) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, t := range history {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		if t.Speaker == session.Assistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	return out
}
