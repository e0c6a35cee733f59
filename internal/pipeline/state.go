// Package pipeline runs a fixed, ordered list of named steps over a shared
// typed state record.
package pipeline

import (
	"time"

	"github.com/rahul/healthbrief/internal/discovery"
	"github.com/rahul/healthbrief/internal/mcp"
)

// Mode selects the step topology of a run.
type Mode string

const (
	ModeAccount Mode = "account"
	ModeNLQuery Mode = "nlquery"
	ModeRawSQL  Mode = "query"
)

// HealthLabel is the traffic-light classification of an account.
type HealthLabel string

const (
	HealthGreen   HealthLabel = "Green"
	HealthYellow  HealthLabel = "Yellow"
	HealthRed     HealthLabel = "Red"
	HealthUnknown HealthLabel = "Unknown"
)

// Request is set by the CLI before the first step.
type Request struct {
	Account      string `json:"account,omitempty"`
	Question     string `json:"question,omitempty"`
	SQL          string `json:"sql,omitempty"`
	ForceRefresh bool   `json:"forceRefresh,omitempty"`
}

// Gathered is owned by the gather step.
type Gathered struct {
	AccountFound  bool             `json:"accountFound"`
	Account       map[string]any   `json:"account,omitempty"`
	Opportunities []map[string]any `json:"opportunities,omitempty"`
	Cases         []map[string]any `json:"cases,omitempty"`
}

// Signal is one named health indicator.
type Signal struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Health is owned by the analyze step.
type Health struct {
	Label     HealthLabel `json:"label"`
	Signals   []Signal    `json:"signals,omitempty"`
	Reasoning string      `json:"reasoning,omitempty"`
	NoData    bool        `json:"noData"`

	OpenCases         int     `json:"openCases"`
	HighPriorityCases int     `json:"highPriorityCases"`
	TotalPipeline     float64 `json:"totalPipeline"`
	LastContact       string  `json:"lastContact,omitempty"`
}

// Advice is owned by the recommend step.
type Advice struct {
	Recommendations []string `json:"recommendations,omitempty"`
	Risks           []string `json:"risks,omitempty"`
	Opportunities   []string `json:"opportunities,omitempty"`
	Reasoning       string   `json:"reasoning,omitempty"`
	// RawOutput keeps an unparsable model reply.
	RawOutput string `json:"rawOutput,omitempty"`
	Fallback  bool   `json:"fallback,omitempty"`
}

// Query is owned by the translate and query steps.
type Query struct {
	SQL    string         `json:"sql,omitempty"`
	Result *mcp.ResultSet `json:"result,omitempty"`
	NoData bool           `json:"noData"`
}

// Artifacts is owned by the render and export steps.
type Artifacts struct {
	HTMLPath string `json:"htmlPath,omitempty"`
	JSONPath string `json:"jsonPath,omitempty"`
}

// StepStatus is the outcome of one executed step.
type StepStatus string

const (
	StepOK     StepStatus = "ok"
	StepFailed StepStatus = "failed"
)

// StepRecord is appended by the sequencer for every executed step.
type StepRecord struct {
	Name     string        `json:"name"`
	Status   StepStatus    `json:"status"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}

// State flows through every step. Each section is written by one step and
// read by the ones after it.
type State struct {
	RunID   string  `json:"runId"`
	Mode    Mode    `json:"mode"`
	Request Request `json:"request"`

	Schema    *discovery.Schema `json:"-"`
	Gather    Gathered          `json:"gather"`
	Health    Health            `json:"health"`
	Advice    Advice            `json:"advice"`
	Query     Query             `json:"query"`
	Insights  string            `json:"insights,omitempty"`
	Artifacts Artifacts         `json:"artifacts"`
	Notified  bool              `json:"notified"`

	History []StepRecord `json:"history,omitempty"`
}

// NewState builds the initial state for a run.
func NewState(runID string, mode Mode, req Request) *State {
	return &State{RunID: runID, Mode: mode, Request: req}
}

// Subject names what the run is about, for file names and messages.
func (s *State) Subject() string {
	switch s.Mode {
	case ModeAccount:
		return s.Request.Account
	case ModeNLQuery:
		return s.Request.Question
	default:
		return "query"
	}
}

// StepNames lists the executed steps in order.
func (s *State) StepNames() []string {
	names := make([]string, 0, len(s.History))
	for _, r := range s.History {
		names = append(names, r.Name)
	}
	return names
}
