// Package llmtest provides a scripted llms.Model for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// ErrExhausted is returned once every scripted reply has been consumed.
var ErrExhausted = errors.New("llmtest: no scripted reply left")

// Reply is one scripted model turn.
type Reply struct {
	Text      string
	ToolCalls []llms.ToolCall
	Err       error
	Tokens    int
}

// Model replays Replies in order and records what it was sent.
type Model struct {
	mu      sync.Mutex
	replies []Reply
	calls   [][]llms.MessageContent
	options []llms.CallOptions
}

var _ llms.Model = (*Model)(nil)

func New(replies ...Reply) *Model {
	return &Model{replies: replies}
}

// Text is shorthand for a model that answers each call with the next string.
func Text(texts ...string) *Model {
	replies := make([]Reply, 0, len(texts))
	for _, t := range texts {
		replies = append(replies, Reply{Text: t})
	}
	return New(replies...)
}

// Failing returns err on every call.
func Failing(err error) *Model {
	return &Model{replies: []Reply{{Err: err}}}
}

func (m *Model) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	m.calls = append(m.calls, append([]llms.MessageContent(nil), messages...))
	m.options = append(m.options, opts)

	if len(m.replies) == 0 {
		return nil, ErrExhausted
	}
	r := m.replies[0]
	// a lone error reply repeats so retried calls keep failing
	if !(r.Err != nil && len(m.replies) == 1) {
		m.replies = m.replies[1:]
	}
	if r.Err != nil {
		return nil, r.Err
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:        r.Text,
			ToolCalls:      r.ToolCalls,
			GenerationInfo: map[string]any{"TotalTokens": r.Tokens},
		}},
	}, nil
}

func (m *Model) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// Calls returns the number of GenerateContent invocations.
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Messages returns the messages sent on call i.
func (m *Model) Messages(i int) []llms.MessageContent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[i]
}

// Options returns the resolved call options of call i.
func (m *Model) Options(i int) llms.CallOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.options[i]
}

// ToolCall builds a function tool call.
func ToolCall(id, name, args string) llms.ToolCall {
	return llms.ToolCall{
		ID:   id,
		Type: "function",
		FunctionCall: &llms.FunctionCall{
			Name:      name,
			Arguments: args,
		},
	}
}

// PromptText concatenates the text parts of messages.
func PromptText(messages []llms.MessageContent) string {
	var out string
	for _, m := range messages {
		for _, p := range m.Parts {
			if t, ok := p.(llms.TextContent); ok {
				out += t.Text + "\n"
			}
		}
	}
	return out
}
