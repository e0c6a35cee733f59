package mcp

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the MCP revision sent on initialize.
const ProtocolVersion = "2024-11-05"

// Names of the tools exposed by the hosted endpoint.
const (
	ToolGetCatalogs = "getCatalogs"
	ToolGetSchemas  = "getSchemas"
	ToolGetTables   = "getTables"
	ToolGetColumns  = "getColumns"
	ToolQueryData   = "queryData"
)

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ToolSchema describes a tool advertised by tools/list.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type callResult struct {
	Content []contentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ResultSet is a tabular query result with columns in server order.
type ResultSet struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// Len returns the row count; a nil ResultSet has none.
func (r *ResultSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Strings renders every row as strings in column order.
func (r *ResultSet) Strings() [][]string {
	if r == nil {
		return nil
	}
	out := make([][]string, 0, len(r.Rows))
	for _, row := range r.Rows {
		line := make([]string, len(r.Columns))
		for i, col := range r.Columns {
			line[i] = FormatValue(row[col])
		}
		out = append(out, line)
	}
	return out
}

// FormatValue prints a JSON scalar the way a person expects to read it.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(x)
	}
}

// queryPayload is the JSON document returned as text by queryData.
type queryPayload struct {
	Results []struct {
		Schema []struct {
			ColumnName string `json:"columnName"`
			TableName  string `json:"tableName,omitempty"`
			DataType   any    `json:"dataType,omitempty"`
		} `json:"schema"`
		Rows [][]any `json:"rows"`
	} `json:"results"`
}

// TransportError reports an unreachable endpoint or a protocol-level failure.
type TransportError struct {
	Method string
	Status int
	Code   int
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("mcp %s: server returned status %d: %v", e.Method, e.Status, e.Err)
	case e.Code != 0:
		return fmt.Sprintf("mcp %s: error %d: %v", e.Method, e.Code, e.Err)
	default:
		return fmt.Sprintf("mcp %s: %v", e.Method, e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
