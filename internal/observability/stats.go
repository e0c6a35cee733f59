package observability

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type Counter struct {
	value int64
}

func (c *Counter) Inc() {
	atomic.AddInt64(&c.value, 1)
}

func (c *Counter) Add(n int64) {
	atomic.AddInt64(&c.value, n)
}

func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Stats accumulates per-run call counts for the closing summary.
type Stats struct {
	LLMCalls    Counter
	MCPCalls    Counter
	TotalTokens Counter

	started time.Time
}

func NewStats() *Stats {
	return &Stats{started: time.Now()}
}

// Elapsed is the time since the run started.
func (s *Stats) Elapsed() time.Duration {
	return time.Since(s.started)
}

// LogSummary writes the run summary.
func (s *Stats) LogSummary(logger *zap.Logger) {
	Node(logger, "summary").Info("run summary",
		zap.Int64("llm_calls", s.LLMCalls.Value()),
		zap.Int64("mcp_calls", s.MCPCalls.Value()),
		zap.Int64("total_tokens", s.TotalTokens.Value()),
		zap.Duration("elapsed", s.Elapsed().Round(time.Millisecond)),
	)
}
