package inference

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chriscow/livekit-voice-agent/pkg/ai"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
)

// OpenAI is a chat model served by the OpenAI chat completions API or a
// compatible endpoint (OPENAI_BASE_URL).
type OpenAI struct {
	model   string
	baseURL string
	apiKey  string
	retry   ai.RetryConfig
	logger  *slog.Logger

	once      sync.Once
	client    *openai.Client
	clientErr error
}

func newOpenAI(cfg map[string]any) (any, error) {
	o := &OpenAI{
		model:   strings.TrimPrefix(cfgString(cfg, "model"), "openai/"),
		baseURL: cfgString(cfg, "baseURL"),
		apiKey:  cfgString(cfg, "apiKey"),
		retry:   ai.DefaultRetryConfig,
		logger:  slog.Default().With(slog.String("provider", "openai")),
	}
	if o.model == "" {
		o.model = openai.GPT4oMini
	}
	return o, nil
}

func (o *OpenAI) Model() string { return o.model }

func (o *OpenAI) getClient() (*openai.Client, error) {
	o.once.Do(func() {
		key, err := apiKey(o.apiKey, "OPENAI_API_KEY")
		if err != nil {
			o.clientErr = ai.NewFatalError(err, "openai")
			return
		}
		cfg := openai.DefaultConfig(key)
		switch {
		case o.baseURL != "":
			cfg.BaseURL = o.baseURL
		default:
			if env := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); env != "" {
				cfg.BaseURL = env
			}
		}
		o.client = openai.NewClientWithConfig(cfg)
	})
	return o.client, o.clientErr
}

func (o *OpenAI) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	client, err := o.getClient()
	if err != nil {
		return llm.ChatResponse{}, err
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	var resp openai.ChatCompletionResponse
	err = ai.Retry(ctx, o.retry, o.logger, "openai chat", func(ctx context.Context) error {
		var callErr error
		resp, callErr = client.CreateChatCompletion(ctx, chatReq)
		return classifyOpenAIError(callErr)
	})
	if err != nil {
		return llm.ChatResponse{}, err
	}
	if len(resp.Choices) == 0 {
		return llm.ChatResponse{}, ai.NewFatalError(nil, "openai: no choices returned")
	}

	choice := resp.Choices[0]
	return llm.ChatResponse{
		Message: llm.Message{
			Role:    llm.RoleAssistant,
			Content: choice.Message.Content,
		},
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: string(choice.FinishReason),
	}, nil
}

func classifyOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return ai.ClassifyHTTPStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return ai.ClassifyHTTPStatus(reqErr.HTTPStatusCode, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return ai.NewRecoverableError(err, "openai")
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindLLM,
		Name:        "openai",
		Factory:     newOpenAI,
		Description: "OpenAI chat completions",
		Config: map[string]any{
			"model":   openai.GPT4oMini,
			"baseURL": "$OPENAI_BASE_URL",
			"apiKey":  "$OPENAI_API_KEY",
		},
	})
}
