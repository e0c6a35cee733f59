// Package mcp is a minimal JSON-RPC 2.0 client for the hosted MCP endpoint
// that exposes metadata discovery and SQL execution as tools.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Client talks to one MCP endpoint. It is not safe for concurrent use; the
// pipeline drives it from a single goroutine.
type Client struct {
	endpoint string
	auth     string
	client   *http.Client
	logger   *zap.Logger
	onCall   func(method string)

	clientName  string
	nextID      int
	initialized bool
	serverInfo  ServerInfo
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithCallHook registers a function invoked before every request.
func WithCallHook(fn func(method string)) Option {
	return func(c *Client) { c.onCall = fn }
}

func WithClientName(name string) Option {
	return func(c *Client) { c.clientName = name }
}

// New creates a client authenticating with HTTP Basic auth (email:PAT).
func New(endpoint, email, pat string, timeout time.Duration, opts ...Option) *Client {
	creds := base64.StdEncoding.EncodeToString([]byte(email + ":" + pat))
	c := &Client{
		endpoint:   endpoint,
		auth:       "Basic " + creds,
		client:     &http.Client{Timeout: timeout},
		logger:     zap.NewNop(),
		clientName: "healthbrief",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// Initialize performs the MCP handshake once; later calls are no-ops.
func (c *Client) Initialize(ctx context.Context) error {
	if c.initialized {
		return nil
	}

	result, err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]string{
			"name":    c.clientName,
			"version": "1.0.0",
		},
	})
	if err != nil {
		return err
	}

	var init struct {
		ServerInfo ServerInfo `json:"serverInfo"`
	}
	if len(result) > 0 {
		// servers are inconsistent here; a missing serverInfo is fine
		_ = json.Unmarshal(result, &init)
	}
	c.serverInfo = init.ServerInfo
	c.initialized = true
	c.logger.Debug("MCP connection initialized",
		zap.String("endpoint", c.endpoint),
		zap.String("server", c.serverInfo.Name))
	return nil
}

// ServerInfo is populated after Initialize.
func (c *Client) ServerInfo() ServerInfo {
	return c.serverInfo
}

// ListTools returns the tools advertised by the server.
func (c *Client) ListTools(ctx context.Context) ([]ToolSchema, error) {
	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}
	result, err := c.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}

	var out struct {
		Tools []ToolSchema `json:"tools"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, &TransportError{Method: "tools/list", Err: fmt.Errorf("failed to parse tools response: %w", err)}
	}
	return out.Tools, nil
}

// CallTool invokes a tool and returns its first text content item.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if err := c.Initialize(ctx); err != nil {
		return "", err
	}
	if args == nil {
		args = map[string]any{}
	}

	method := "tools/call"
	result, err := c.call(ctx, method, map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return "", err
	}

	var res callResult
	if err := json.Unmarshal(result, &res); err != nil {
		return "", &TransportError{Method: method + " " + name, Err: fmt.Errorf("failed to parse tool result: %w", err)}
	}

	text := ""
	for _, item := range res.Content {
		if item.Type == "text" {
			text = item.Text
			break
		}
	}
	if res.IsError {
		return "", &TransportError{Method: method + " " + name, Err: errors.New(strings.TrimSpace(text))}
	}
	return text, nil
}

// Query runs a SELECT through the queryData tool.
func (c *Client) Query(ctx context.Context, sql string) (*ResultSet, error) {
	text, err := c.CallTool(ctx, ToolQueryData, map[string]any{"query": sql})
	if err != nil {
		return nil, err
	}
	rs, err := ParseResultSet(text)
	if err != nil {
		return nil, &TransportError{Method: "tools/call " + ToolQueryData, Err: err}
	}
	c.logger.Debug("query executed", zap.Int("rows", rs.Len()))
	return rs, nil
}

// ParseResultSet decodes the queryData text payload. Empty text and empty
// result lists are an empty ResultSet.
func ParseResultSet(text string) (*ResultSet, error) {
	rs := &ResultSet{Rows: []map[string]any{}}
	text = strings.TrimSpace(text)
	if text == "" {
		return rs, nil
	}

	var payload queryPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("unexpected query payload: %w", err)
	}
	if len(payload.Results) == 0 {
		return rs, nil
	}

	first := payload.Results[0]
	for _, col := range first.Schema {
		rs.Columns = append(rs.Columns, col.ColumnName)
	}
	for _, row := range first.Rows {
		rec := make(map[string]any, len(rs.Columns))
		for i, col := range rs.Columns {
			if i < len(row) {
				rec[col] = row[i]
			} else {
				rec[col] = nil
			}
		}
		rs.Rows = append(rs.Rows, rec)
	}
	return rs, nil
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.nextID++
	if c.onCall != nil {
		c.onCall(method)
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.auth)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: method, Err: fmt.Errorf("read response: %w", err)}
	}
	c.logger.Debug("mcp call",
		zap.String("method", method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	if resp.StatusCode >= 400 {
		return nil, &TransportError{Method: method, Status: resp.StatusCode, Err: errors.New(truncate(string(raw), 300))}
	}

	rpcResp, err := decodeBody(raw)
	if err != nil {
		return nil, &TransportError{Method: method, Err: err}
	}
	if rpcResp.Error != nil {
		return nil, &TransportError{Method: method, Code: rpcResp.Error.Code, Err: errors.New(rpcResp.Error.Message)}
	}
	return rpcResp.Result, nil
}

// decodeBody accepts either a plain JSON-RPC document or an SSE stream whose
// last data line carries it.
func decodeBody(raw []byte) (*rpcResponse, error) {
	payload := bytes.TrimSpace(raw)

	var last []byte
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if bytes.HasPrefix(line, []byte("data:")) {
			last = append(last[:0], bytes.TrimSpace(line[len("data:"):])...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event stream: %w", err)
	}
	if last != nil {
		payload = last
	}

	var resp rpcResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse MCP response: %w", err)
	}
	return &resp, nil
}

// truncate cuts s to at most maxLen bytes on a rune boundary.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}
