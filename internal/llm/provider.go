// Package llm builds the language model used by the pipeline and offers small
// helpers for single-turn completions and reply cleanup.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/rahul/healthbrief/pkg/config"
)

// ErrUnsupportedProvider is a configuration error.
var ErrUnsupportedProvider = errors.New("unsupported llm provider")

// New returns a model for cfg.Provider. httpClient carries the configured
// timeout and is handed to every provider; nil uses the provider default.
func New(ctx context.Context, cfg config.LLMConfig, httpClient *http.Client) (llms.Model, error) {
	var (
		model llms.Model
		err   error
	)

	switch strings.ToLower(cfg.Provider) {
	case "openai":
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if httpClient != nil {
			opts = append(opts, openai.WithHTTPClient(httpClient))
		}
		model, err = openai.New(opts...)
	case "google":
		opts := []googleai.Option{
			googleai.WithAPIKey(cfg.APIKey),
			googleai.WithDefaultModel(cfg.Model),
		}
		if httpClient != nil {
			opts = append(opts, googleai.WithHTTPClient(httpClient))
		}
		model, err = googleai.New(ctx, opts...)
	case "anthropic":
		opts := []anthropic.Option{
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		if httpClient != nil {
			opts = append(opts, anthropic.WithHTTPClient(httpClient))
		}
		model, err = anthropic.New(opts...)
	case "ollama":
		opts := []ollama.Option{
			ollama.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		if httpClient != nil {
			opts = append(opts, ollama.WithHTTPClient(httpClient))
		}
		model, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s model: %w", cfg.Provider, err)
	}
	return model, nil
}

// CallOptions turns the configured sampling settings into call options.
func CallOptions(cfg config.LLMConfig) []llms.CallOption {
	var opts []llms.CallOption
	if cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(cfg.MaxTokens))
	}
	opts = append(opts, llms.WithTemperature(cfg.Temperature))
	return opts
}

// Complete sends one system + user exchange and returns the reply text.
func Complete(ctx context.Context, model llms.Model, system, user string, opts ...llms.CallOption) (string, error) {
	var messages []llms.MessageContent
	if system != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, user))

	resp, err := model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}
