package store

import "time"

// Run is one CLI invocation.
type Run struct {
	ID        string        `json:"id"`
	Mode      string        `json:"mode"`
	Subject   string        `json:"subject"`
	Status    string        `json:"status"` // ok, failed
	Health    string        `json:"health,omitempty"`
	Artifact  string        `json:"artifact,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	LLMCalls  int64         `json:"llmCalls"`
	MCPCalls  int64         `json:"mcpCalls"`
	Tokens    int64         `json:"tokens"`
	Steps     []Step        `json:"steps,omitempty"`
}

// Step is one executed pipeline step of a run.
type Step struct {
	Position  int           `json:"position"`
	Name      string        `json:"name"`
	Status    string        `json:"status"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}
