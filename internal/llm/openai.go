package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
)

// OpenAIClient implements Client against the OpenAI chat completions API or
// any OpenAI-compatible endpoint.
type OpenAIClient struct {
	client openai.Client
}

// NewOpenAIClient constructs a client. baseURL is optional; transient HTTP
// failures are retried by the underlying client.
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	retry := retryablehttp.NewClient()
	retry.RetryMax = 3
	retry.Logger = nil

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(retry.StandardClient()),
	}

	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIClient{client: openai.NewClient(opts...)}
}

func (c *OpenAIClient) Create(ctx context.Context, req Request) (Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(req.Model),
		Messages:    req.Messages,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
		Temperature: param.NewOpt(0.0),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, err
	}

	return parseChatCompletion(resp)
}

func parseChatCompletion(resp *openai.ChatCompletion) (Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("empty response")
	}

	msg := resp.Choices[0].Message
	response := Response{Content: msg.Content}

	for _, toolCall := range msg.ToolCalls {
		if toolCall.Type != "function" {
			continue
		}

		fn := toolCall.AsFunction()
		response.ToolCalls = append(response.ToolCalls, ToolCall{
			ID:        fn.ID,
			Name:      fn.Function.Name,
			Arguments: json.RawMessage(fn.Function.Arguments),
		})
	}

	return response, nil
}
