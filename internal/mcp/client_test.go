package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	t       *testing.T
	sse     bool
	methods []string
	tools   map[string]func(args map[string]any) (string, bool)
	auth    string
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.auth = r.Header.Get("Authorization")

	var req struct {
		ID     int             `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if !assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req)) {
		return
	}
	f.methods = append(f.methods, req.Method)

	var result any
	switch req.Method {
	case "initialize":
		result = map[string]any{"serverInfo": map[string]string{"name": "fake", "version": "0.1"}}
	case "tools/list":
		result = map[string]any{"tools": []map[string]string{{"name": ToolQueryData, "description": "run sql"}}}
	case "tools/call":
		var p struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if !assert.NoError(f.t, json.Unmarshal(req.Params, &p)) {
			return
		}
		handler, ok := f.tools[p.Name]
		if !ok {
			f.write(w, map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{"code": -32601, "message": "unknown tool"}})
			return
		}
		text, isErr := handler(p.Arguments)
		result = map[string]any{"content": []map[string]string{{"type": "text", "text": text}}, "isError": isErr}
	}
	f.write(w, map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func (f *fakeServer) write(w http.ResponseWriter, doc any) {
	raw, _ := json.Marshal(doc)
	if f.sse {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", raw)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}

func newTestClient(t *testing.T, f *fakeServer, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return New(srv.URL, "ops@example.com", "secret", 5*time.Second, opts...)
}

const accountPayload = `{"results":[{"schema":[{"columnName":"Id","tableName":"Account"},{"columnName":"Name","tableName":"Account"},{"columnName":"AnnualRevenue","tableName":"Account"}],"rows":[["001","Acme",1500000],["002","Globex",null]]}]}`

func TestQueryParsesRows(t *testing.T) {
	for _, sse := range []bool{false, true} {
		t.Run(fmt.Sprintf("sse=%v", sse), func(t *testing.T) {
			var gotSQL string
			f := &fakeServer{t: t, sse: sse, tools: map[string]func(map[string]any) (string, bool){
				ToolQueryData: func(args map[string]any) (string, bool) {
					gotSQL, _ = args["query"].(string)
					return accountPayload, false
				},
			}}
			c := newTestClient(t, f)

			rs, err := c.Query(context.Background(), "SELECT * FROM Account")
			require.NoError(t, err)

			assert.Equal(t, "SELECT * FROM Account", gotSQL)
			assert.Equal(t, []string{"Id", "Name", "AnnualRevenue"}, rs.Columns)
			require.Equal(t, 2, rs.Len())
			assert.Equal(t, "Acme", rs.Rows[0]["Name"])
			assert.Nil(t, rs.Rows[1]["AnnualRevenue"])
			assert.Equal(t, [][]string{{"001", "Acme", "1500000"}, {"002", "Globex", ""}}, rs.Strings())
		})
	}
}

func TestInitializeOnceAndBasicAuth(t *testing.T) {
	f := &fakeServer{t: t, tools: map[string]func(map[string]any) (string, bool){
		ToolGetCatalogs: func(map[string]any) (string, bool) { return "CatalogName\nDemo", false },
	}}
	var calls []string
	c := newTestClient(t, f, WithCallHook(func(m string) { calls = append(calls, m) }))

	for i := 0; i < 2; i++ {
		_, err := c.CallTool(context.Background(), ToolGetCatalogs, nil)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"initialize", "tools/call", "tools/call"}, f.methods)
	assert.Equal(t, f.methods, calls)
	assert.Equal(t, "Basic b3BzQGV4YW1wbGUuY29tOnNlY3JldA==", f.auth)
	assert.Equal(t, "fake", c.ServerInfo().Name)
}

func TestListTools(t *testing.T) {
	c := newTestClient(t, &fakeServer{t: t})
	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, ToolQueryData, tools[0].Name)
}

func TestRPCErrorIsTransportError(t *testing.T) {
	c := newTestClient(t, &fakeServer{t: t})

	_, err := c.CallTool(context.Background(), "nope", nil)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, -32601, te.Code)
	assert.Contains(t, err.Error(), "unknown tool")
}

func TestToolErrorResult(t *testing.T) {
	f := &fakeServer{t: t, tools: map[string]func(map[string]any) (string, bool){
		ToolQueryData: func(map[string]any) (string, bool) { return "syntax error near FROM", true },
	}}
	c := newTestClient(t, f)

	_, err := c.Query(context.Background(), "SELECT FROM")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error near FROM")
}

func TestHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "a", "b", time.Second)
	err := c.Initialize(context.Background())

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusUnauthorized, te.Status)
}

func TestUnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, "a", "b", time.Second)
	_, err := c.Query(context.Background(), "SELECT 1")

	var te *TransportError
	assert.True(t, errors.As(err, &te))
}

func TestParseResultSetEmpty(t *testing.T) {
	for _, text := range []string{"", "  ", `{"results":[]}`, `{"results":[{"schema":[{"columnName":"Id"}],"rows":[]}]}`} {
		rs, err := ParseResultSet(text)
		require.NoError(t, err, text)
		assert.Equal(t, 0, rs.Len(), text)
	}
}

func TestParseResultSetMalformed(t *testing.T) {
	_, err := ParseResultSet("Error: connection not found")
	assert.Error(t, err)
}

func TestDecodeBodyTakesLastDataLine(t *testing.T) {
	body := "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"a\":1}}\n\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"a\":2}}\n"
	resp, err := decodeBody([]byte(body))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(resp.Result))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	assert.Equal(t, "a...", truncate("aéb", 2), "cut inside é backs off")
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "42", FormatValue(float64(42)))
	assert.Equal(t, "3.5", FormatValue(3.5))
	assert.Equal(t, "", FormatValue(nil))
	assert.Equal(t, "true", FormatValue(true))
	assert.Equal(t, "x", FormatValue("x"))
}
