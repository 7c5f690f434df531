package ai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const defaultGatewayModel = "gpt-4o-mini"

// Gateway completes against any OpenAI-compatible endpoint: OpenAI
// itself, or a self-hosted gateway fronting another model, selected by
// base URL.
type Gateway struct {
	client openai.Client
	model  string
}

var _ Completer = (*Gateway)(nil)

// NewGateway builds a completer for an OpenAI-compatible API. baseURL
// and model may be empty for the provider defaults.
func NewGateway(apiKey, baseURL, model string) *Gateway {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = defaultGatewayModel
	}
	return &Gateway{client: openai.NewClient(opts...), model: model}
}

func (g *Gateway) Name() string { return "openai" }

func (g *Gateway) Complete(ctx context.Context, req Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
	}
	if req.System != "" {
		params.Messages = append([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
		}, params.Messages...)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat completion: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
