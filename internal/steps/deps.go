// Package steps holds the pipeline steps and the per-mode step lists.
package steps

import (
	"context"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/rahul/healthbrief/internal/agent"
	"github.com/rahul/healthbrief/internal/discovery"
	"github.com/rahul/healthbrief/internal/gateway"
	"github.com/rahul/healthbrief/internal/governance"
	"github.com/rahul/healthbrief/internal/llm"
	"github.com/rahul/healthbrief/internal/mcp"
	"github.com/rahul/healthbrief/internal/observability"
	"github.com/rahul/healthbrief/internal/render"
	"github.com/rahul/healthbrief/internal/schemacache"
	"github.com/rahul/healthbrief/pkg/config"
)

// DataClient is the part of the MCP client the steps use.
type DataClient interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	Query(ctx context.Context, sql string) (*mcp.ResultSet, error)
}

// SchemaCache is the part of the schema cache the steps use.
type SchemaCache interface {
	Get(key string) (*schemacache.Entry, bool)
	Put(key string, payload any, ttlSeconds int) error
	InvalidateAll() error
}

// Deps carries everything a step may touch. Steps never read the
// environment; configuration arrives here.
type Deps struct {
	Config     *config.Config
	MCP        DataClient
	Model      llms.Model
	Cache      SchemaCache
	Renderer   *render.Renderer
	Prompts    *agent.PromptManager
	Policy     governance.PolicyEngine
	Messengers []gateway.Messenger
	Logger     *zap.Logger
}

func (d *Deps) log(node string) *zap.Logger {
	return observability.Node(d.Logger, node)
}

func (d *Deps) callOptions() []llms.CallOption {
	return llm.CallOptions(d.Config.LLM)
}

// ConnectionKey identifies the configured connection in the schema cache.
func (d *Deps) ConnectionKey() string {
	return discovery.ConnectionKey(d.Config.CData.Email, d.Config.CData.Endpoint, d.Config.Connection())
}

// loadSchema returns the cached schema or discovers it.
func (d *Deps) loadSchema(ctx context.Context, node string) (*discovery.Schema, error) {
	var catalogs []string
	if conn := d.Config.Connection(); conn != "" {
		catalogs = []string{conn}
	}

	disc := discovery.NewDiscoverer(d.MCP, d.Config.Agent.MaxTables, d.log(node))
	schema, _, err := disc.Load(ctx, d.Cache, discovery.LoadOptions{
		Key:        d.ConnectionKey(),
		Catalogs:   catalogs,
		TTLSeconds: d.Config.Cache.TTLSeconds,
	})
	return schema, err
}
