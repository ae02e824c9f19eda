package suggest

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const systemPrompt = `You create fun weekly wellness challenges for computer science students.
Reply with a single JSON object and nothing else:
{"title": "...", "description": "...", "tasks": [{"task": "...", "description": "..."}]}
Rules:
- title is a short catchy phrase.
- each task is specific, measurable and doable within 7 days.
- each task description explains the health benefit in 1-3 sentences.
- include at least 4 tasks.
- for serious illness topics, tasks must point to a real doctor rather than a chatbot.`

// OpenAI generates drafts with a chat completion model.
type OpenAI struct {
	client *openai.Client
	model  string
	log    *zap.Logger
}

func NewOpenAI(apiKey, model string, log *zap.Logger) (*OpenAI, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key required")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OpenAI{client: openai.NewClient(apiKey), model: model, log: log}, nil
}

func (o *OpenAI) Generate(ctx context.Context, text string) (Draft, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Draft{}, fmt.Errorf("%w: prompt is empty", ErrInvalidDraft)
	}
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		o.log.Error("openai call failed", zap.String("model", o.model), zap.Error(err))
		return Draft{}, fmt.Errorf("openai call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Draft{}, fmt.Errorf("openai returned no choices")
	}
	o.log.Debug("openai draft received", zap.String("finish_reason", string(resp.Choices[0].FinishReason)))
	return ParseDraft(resp.Choices[0].Message.Content)
}
