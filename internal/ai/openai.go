package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIClient talks to any OpenAI-compatible chat-completions endpoint,
// which covers the Gemini models exposed through a compatibility proxy.
type OpenAIClient struct {
	client         openaigo.Client
	defaultModel   string
	requestTimeout time.Duration
}

func NewOpenAIClient(apiKey, baseURL, defaultModel string, requestTimeout time.Duration) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("OPENAI_API_KEY is required for the openai provider")
	}
	if requestTimeout <= 0 {
		requestTimeout = 120 * time.Second
	}

	client := openaigo.NewClient(
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithBaseURL(strings.TrimRight(strings.TrimSpace(baseURL), "/")),
		option.WithRequestTimeout(requestTimeout),
	)
	return &OpenAIClient{
		client:         client,
		defaultModel:   strings.TrimSpace(defaultModel),
		requestTimeout: requestTimeout,
	}, nil
}

func (c *OpenAIClient) params(req Request) openaigo.ChatCompletionNewParams {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.defaultModel
	}

	messages := make([]openaigo.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openaigo.SystemMessage(req.System))
	}
	messages = append(messages, openaigo.UserMessage(req.Prompt))

	return openaigo.ChatCompletionNewParams{
		Model:       openaigo.ChatModel(model),
		Messages:    messages,
		Temperature: openaigo.Float(req.Temperature),
	}
}

func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, c.params(req))
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("provider returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Stream(ctx context.Context, req Request, onChunk func(text string)) error {
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(req))
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		onChunk(delta)
	}
	return stream.Err()
}
