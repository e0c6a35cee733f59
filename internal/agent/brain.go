// Package agent runs a bounded ReAct loop in which the model explores the
// data catalog through a closed set of tools.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/rahul/healthbrief/internal/governance"
	"github.com/rahul/healthbrief/internal/mcp"
)

// ErrIterationLimit is returned when the model keeps calling tools past the
// configured bound.
var ErrIterationLimit = errors.New("agent iteration limit reached")

// ToolKind is the closed set of tools the model may call.
type ToolKind string

const (
	ToolGetCatalogs ToolKind = "get_catalogs"
	ToolGetSchemas  ToolKind = "get_schemas"
	ToolGetTables   ToolKind = "get_tables"
	ToolGetColumns  ToolKind = "get_columns"
	ToolQueryData   ToolKind = "query_data"
)

// ToolKinds lists every tool in the order it is offered to the model.
var ToolKinds = []ToolKind{ToolGetCatalogs, ToolGetSchemas, ToolGetTables, ToolGetColumns, ToolQueryData}

// ParseToolKind rejects names outside the closed set.
func ParseToolKind(name string) (ToolKind, bool) {
	for _, k := range ToolKinds {
		if string(k) == name {
			return k, true
		}
	}
	return "", false
}

// ToolCaller is the part of the MCP client the agent needs.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

type toolArgs struct {
	Catalog string `json:"catalog"`
	Schema  string `json:"schema"`
	Table   string `json:"table"`
	Query   string `json:"query"`
}

type toolHandler func(ctx context.Context, args toolArgs) (string, error)

// maxObservation caps how much tool output is fed back to the model.
const maxObservation = 4000

// Explorer is a ReAct agent restricted to the catalog tools.
type Explorer struct {
	Model         llms.Model
	Tools         ToolCaller
	Policy        governance.PolicyEngine
	MaxIterations int
	CallOptions   []llms.CallOption

	logger   *zap.Logger
	dispatch map[ToolKind]toolHandler
}

func NewExplorer(model llms.Model, tools ToolCaller, policy governance.PolicyEngine, maxIterations int, logger *zap.Logger) *Explorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Explorer{
		Model:         model,
		Tools:         tools,
		Policy:        policy,
		MaxIterations: maxIterations,
		logger:        logger,
	}
	e.dispatch = map[ToolKind]toolHandler{
		ToolGetCatalogs: func(ctx context.Context, _ toolArgs) (string, error) {
			return e.Tools.CallTool(ctx, mcp.ToolGetCatalogs, nil)
		},
		ToolGetSchemas: func(ctx context.Context, a toolArgs) (string, error) {
			return e.Tools.CallTool(ctx, mcp.ToolGetSchemas, map[string]any{"catalogName": a.Catalog})
		},
		ToolGetTables: func(ctx context.Context, a toolArgs) (string, error) {
			return e.Tools.CallTool(ctx, mcp.ToolGetTables, map[string]any{
				"catalogName": a.Catalog,
				"schemaName":  a.Schema,
			})
		},
		ToolGetColumns: func(ctx context.Context, a toolArgs) (string, error) {
			return e.Tools.CallTool(ctx, mcp.ToolGetColumns, map[string]any{
				"catalogName": a.Catalog,
				"schemaName":  a.Schema,
				"tableName":   a.Table,
			})
		},
		ToolQueryData: func(ctx context.Context, a toolArgs) (string, error) {
			if err := governance.Enforce(ctx, e.Policy, governance.Request{
				Tool:      string(ToolQueryData),
				Statement: a.Query,
				Source:    "agent",
			}); err != nil {
				return "", err
			}
			return e.Tools.CallTool(ctx, mcp.ToolQueryData, map[string]any{"query": a.Query})
		},
	}
	return e
}

// Run drives the loop until the model answers without calling a tool and
// returns that answer.
func (e *Explorer) Run(ctx context.Context, systemPrompt, input string) (string, error) {
	var messages []llms.MessageContent
	if systemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, input))

	opts := append([]llms.CallOption{llms.WithTools(toolDefinitions())}, e.CallOptions...)

	for i := 0; i < e.MaxIterations; i++ {
		resp, err := e.Model.GenerateContent(ctx, messages, opts...)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("model returned no choices")
		}
		choice := resp.Choices[0]

		var assistantParts []llms.ContentPart
		if choice.Content != "" {
			assistantParts = append(assistantParts, llms.TextContent{Text: choice.Content})
		}
		for _, tc := range choice.ToolCalls {
			assistantParts = append(assistantParts, tc)
		}
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeAI,
			Parts: assistantParts,
		})

		if len(choice.ToolCalls) == 0 {
			return strings.TrimSpace(choice.Content), nil
		}

		for _, tc := range choice.ToolCalls {
			result, err := e.execute(ctx, tc)
			if err != nil {
				return "", err
			}
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: tc.ID,
						Name:       toolName(tc),
						Content:    result,
					},
				},
			})
		}
	}

	return "", fmt.Errorf("%w after %d rounds", ErrIterationLimit, e.MaxIterations)
}

// execute turns a tool call into an observation. Only a cancelled context is
// returned as an error; every other failure is reported to the model.
func (e *Explorer) execute(ctx context.Context, tc llms.ToolCall) (string, error) {
	name := toolName(tc)
	kind, ok := ParseToolKind(name)
	if !ok {
		e.logger.Warn("model requested unknown tool", zap.String("tool", name))
		return fmt.Sprintf("Error: unknown tool %q. Available tools: %s", name, joinKinds()), nil
	}

	var args toolArgs
	if tc.FunctionCall != nil && strings.TrimSpace(tc.FunctionCall.Arguments) != "" {
		if err := json.Unmarshal([]byte(tc.FunctionCall.Arguments), &args); err != nil {
			return fmt.Sprintf("Error: invalid arguments for %s: %v", name, err), nil
		}
	}

	e.logger.Debug("executing tool", zap.String("tool", name), zap.Any("args", args))
	result, err := e.dispatch[kind](ctx, args)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err != nil {
		e.logger.Debug("tool failed", zap.String("tool", name), zap.Error(err))
		return fmt.Sprintf("Error: %v", err), nil
	}
	if len(result) > maxObservation {
		cut := maxObservation
		for cut > 0 && !utf8.RuneStart(result[cut]) {
			cut--
		}
		result = result[:cut] + "\n...(truncated)"
	}
	return result, nil
}

func toolName(tc llms.ToolCall) string {
	if tc.FunctionCall == nil {
		return ""
	}
	return tc.FunctionCall.Name
}

func joinKinds() string {
	names := make([]string, len(ToolKinds))
	for i, k := range ToolKinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

func toolDefinitions() []llms.Tool {
	str := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	object := func(props map[string]any, required ...string) map[string]any {
		schema := map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			schema["required"] = required
		}
		return schema
	}

	defs := map[ToolKind]llms.FunctionDefinition{
		ToolGetCatalogs: {
			Description: "List the available catalogs (connections).",
			Parameters:  object(map[string]any{}),
		},
		ToolGetSchemas: {
			Description: "List the schemas of a catalog.",
			Parameters:  object(map[string]any{"catalog": str("catalog name")}, "catalog"),
		},
		ToolGetTables: {
			Description: "List the tables of a schema.",
			Parameters: object(map[string]any{
				"catalog": str("catalog name"),
				"schema":  str("schema name"),
			}, "catalog", "schema"),
		},
		ToolGetColumns: {
			Description: "List the columns of a table.",
			Parameters: object(map[string]any{
				"catalog": str("catalog name"),
				"schema":  str("schema name"),
				"table":   str("table name"),
			}, "catalog", "schema", "table"),
		},
		ToolQueryData: {
			Description: "Run a read-only SELECT statement and return the rows.",
			Parameters:  object(map[string]any{"query": str("SQL SELECT statement")}, "query"),
		},
	}

	tools := make([]llms.Tool, 0, len(ToolKinds))
	for _, kind := range ToolKinds {
		def := defs[kind]
		def.Name = string(kind)
		tools = append(tools, llms.Tool{Type: "function", Function: &def})
	}
	return tools
}

// TranslateData fills the translate prompt.
type TranslateData struct {
	Connection    string
	Schema        string
	Tables        string
	AccountTable  string
	CaseTable     string
	SchemaSummary string
	MaxIterations int
}
