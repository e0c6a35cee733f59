package llm

import (
	"context"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/rahul/healthbrief/internal/observability"
)

// Counting wraps a model and records every call in the run statistics.
type Counting struct {
	model  llms.Model
	stats  *observability.Stats
	logger *zap.Logger
}

var _ llms.Model = (*Counting)(nil)

func NewCounting(model llms.Model, stats *observability.Stats, logger *zap.Logger) *Counting {
	if stats == nil {
		stats = observability.NewStats()
	}
	return &Counting{model: model, stats: stats, logger: observability.Node(logger, "llm")}
}

func (c *Counting) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	c.stats.LLMCalls.Inc()

	resp, err := c.model.GenerateContent(ctx, messages, options...)
	if err != nil {
		c.logger.Debug("llm call failed", zap.Error(err))
		return nil, err
	}

	tokens := totalTokens(resp)
	c.stats.TotalTokens.Add(int64(tokens))
	c.logger.Debug("llm call",
		zap.Int("messages", len(messages)),
		zap.Int("tokens", tokens))
	return resp, nil
}

func (c *Counting) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, c, prompt, options...)
}

// totalTokens reads the usage figure providers report in GenerationInfo.
func totalTokens(resp *llms.ContentResponse) int {
	if resp == nil {
		return 0
	}
	total := 0
	for _, choice := range resp.Choices {
		if choice == nil {
			continue
		}
		switch v := choice.GenerationInfo["TotalTokens"].(type) {
		case int:
			total += v
		case int32:
			total += int(v)
		case int64:
			total += int(v)
		case float64:
			total += int(v)
		}
	}
	return total
}
