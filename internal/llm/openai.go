package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nugget/hodie/internal/config"
	"github.com/nugget/hodie/internal/httpkit"
)

// OpenAIClient talks to the OpenAI chat completions API or any
// compatible server (Ollama, vLLM, LM Studio) reachable at BaseURL.
type OpenAIClient struct {
	client      *openai.Client
	maxTokens   int
	temperature float32
	logger      *slog.Logger
}

// NewOpenAIClient creates a client from the model configuration.
func NewOpenAIClient(cfg config.ModelConfig, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}

	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = httpkit.NewClient(httpkit.WithTimeout(0), httpkit.WithTransport(t))

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(oc),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger.With("provider", "openai"),
	}
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	msgs, err := convertToOpenAI(req.Messages)
	if err != nil {
		return nil, err
	}

	wire := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Tools:       convertToolsToOpenAI(req.Tools),
	}
	if len(wire.Tools) > 0 && req.ToolChoice != "" {
		wire.ToolChoice = string(req.ToolChoice)
	}

	c.logger.Debug("preparing request",
		"model", req.Model,
		"messages", len(msgs),
		"tools", len(wire.Tools),
		"tool_choice", req.ToolChoice,
	)
	if c.logger.Enabled(ctx, config.LevelTrace) {
		if b, err := json.Marshal(wire); err == nil {
			c.logger.Log(ctx, config.LevelTrace, "request payload", "json", string(b))
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, wire)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			c.logger.Error("API error", "status", apiErr.HTTPStatusCode, "message", apiErr.Message)
			return nil, fmt.Errorf("openai API error %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai response contained no choices")
	}

	result, err := convertFromOpenAI(resp)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
		"stop_reason", result.StopReason,
	)
	c.logger.Log(ctx, config.LevelTrace, "response content", "content", result.Message.Content)

	return result, nil
}

// Ping checks that the endpoint answers and accepts the key.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func convertToOpenAI(messages []Message) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		om := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			args := tc.Function.Arguments
			if args == nil {
				args = map[string]any{}
			}
			b, err := json.Marshal(args)
			if err != nil {
				return nil, fmt.Errorf("marshal arguments for %s: %w", tc.Function.Name, err)
			}
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: string(b),
				},
			})
		}
		result = append(result, om)
	}
	return result, nil
}

func convertToolsToOpenAI(tools []ToolSpec) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var params any = t.Parameters
		if t.Parameters == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return result
}

func convertFromOpenAI(resp openai.ChatCompletionResponse) (*ChatResponse, error) {
	choice := resp.Choices[0]

	var calls []ToolCall
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				// Keep the raw text so schema validation reports it
				// back to the model as a call error.
				args = map[string]any{"_raw": tc.Function.Arguments}
			}
		}
		calls = append(calls, ToolCall{
			ID:       tc.ID,
			Function: FunctionCall{Name: tc.Function.Name, Arguments: args},
		})
	}
	ensureCallIDs(calls)

	created := time.Now()
	if resp.Created > 0 {
		created = time.Unix(resp.Created, 0)
	}

	return &ChatResponse{
		Model:     resp.Model,
		CreatedAt: created,
		Message: Message{
			Role:      RoleAssistant,
			Content:   choice.Message.Content,
			ToolCalls: calls,
		},
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		StopReason:   string(choice.FinishReason),
	}, nil
}
