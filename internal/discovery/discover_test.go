package discovery

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/healthbrief/internal/mcp"
	"github.com/rahul/healthbrief/internal/schemacache"
)

type fakeTools struct {
	calls     []string
	responses map[string]func(args map[string]any) (string, error)
}

func (f *fakeTools) CallTool(_ context.Context, name string, args map[string]any) (string, error) {
	f.calls = append(f.calls, name)
	fn, ok := f.responses[name]
	if !ok {
		return "", errors.New("unexpected tool " + name)
	}
	return fn(args)
}

func (f *fakeTools) count(name string) int {
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func demoTools() *fakeTools {
	return &fakeTools{responses: map[string]func(map[string]any) (string, error){
		mcp.ToolGetCatalogs: func(map[string]any) (string, error) {
			return "TABLE_CATALOG\nDemo\n", nil
		},
		mcp.ToolGetSchemas: func(map[string]any) (string, error) {
			return "TABLE_CATALOG,TABLE_SCHEMA\nDemo,GoogleSheets\n", nil
		},
		mcp.ToolGetTables: func(map[string]any) (string, error) {
			return `{"results":[{"schema":[{"columnName":"TABLE_SCHEMA"},{"columnName":"TABLE_NAME"}],"rows":[["GoogleSheets","demo_organization_account"],["GoogleSheets","demo_organization_tickets"]]}]}`, nil
		},
		mcp.ToolGetColumns: func(args map[string]any) (string, error) {
			if args["tableName"] == "demo_organization_account" {
				return "TABLE_NAME,COLUMN_NAME,DATA_TYPE_NAME\ndemo_organization_account,Id,varchar\ndemo_organization_account,Name,varchar\n", nil
			}
			return "TABLE_NAME,COLUMN_NAME,DATA_TYPE_NAME\ndemo_organization_tickets,Priority,varchar\n", nil
		},
	}}
}

func TestDiscoverWalksMetadata(t *testing.T) {
	tools := demoTools()
	d := NewDiscoverer(tools, 20, nil)

	schema, err := d.Discover(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, schema.Catalogs, 1)
	assert.Equal(t, "Demo", schema.Catalogs[0].Name)
	assert.Equal(t, []string{"GoogleSheets"}, schema.Catalogs[0].Schemas)
	assert.Equal(t, 2, schema.TableCount())

	account, ok := schema.FindTable("googlesheets", "DEMO_ORGANIZATION_ACCOUNT")
	require.True(t, ok)
	assert.Equal(t, []string{"Id", "Name"}, account.ColumnNames())
	assert.Equal(t, "varchar", account.Columns[0].Type)
	assert.True(t, account.HasColumn("name"))
	assert.Equal(t, "[Demo].[GoogleSheets].[demo_organization_account]", account.QualifiedName())
}

func TestDiscoverConfiguredCatalogSkipsGetCatalogs(t *testing.T) {
	tools := demoTools()
	d := NewDiscoverer(tools, 20, nil)

	_, err := d.Discover(context.Background(), []string{"Demo"})
	require.NoError(t, err)
	assert.Zero(t, tools.count(mcp.ToolGetCatalogs))
}

func TestDiscoverRespectsMaxTables(t *testing.T) {
	tools := demoTools()
	d := NewDiscoverer(tools, 1, nil)

	schema, err := d.Discover(context.Background(), []string{"Demo"})
	require.NoError(t, err)
	assert.Equal(t, 1, tools.count(mcp.ToolGetColumns))
	assert.Equal(t, 2, schema.TableCount(), "tables past the budget are still listed")
}

func TestDiscoverWithoutSchemasListsCatalogTables(t *testing.T) {
	tools := demoTools()
	tools.responses[mcp.ToolGetSchemas] = func(map[string]any) (string, error) {
		return "", nil
	}
	var tableArgs []map[string]any
	listTables := tools.responses[mcp.ToolGetTables]
	tools.responses[mcp.ToolGetTables] = func(args map[string]any) (string, error) {
		tableArgs = append(tableArgs, args)
		return listTables(args)
	}
	d := NewDiscoverer(tools, 20, nil)

	schema, err := d.Discover(context.Background(), []string{"Demo"})
	require.NoError(t, err)

	require.Len(t, tableArgs, 1)
	assert.Equal(t, map[string]any{"catalogName": "Demo", "schemaName": ""}, tableArgs[0])
	assert.Equal(t, 2, schema.TableCount())
	assert.Equal(t, []string{"GoogleSheets"}, schema.Catalogs[0].Schemas)

	account, ok := schema.FindTable("GoogleSheets", "demo_organization_account")
	require.True(t, ok)
	assert.Equal(t, "[Demo].[GoogleSheets].[demo_organization_account]", account.QualifiedName())
	assert.Equal(t, []string{"Id", "Name"}, account.ColumnNames())
}

func TestDiscoverPropagatesToolErrors(t *testing.T) {
	tools := demoTools()
	tools.responses[mcp.ToolGetSchemas] = func(map[string]any) (string, error) {
		return "", &mcp.TransportError{Method: "tools/call", Err: errors.New("boom")}
	}
	d := NewDiscoverer(tools, 20, nil)

	_, err := d.Discover(context.Background(), []string{"Demo"})
	var te *mcp.TransportError
	assert.True(t, errors.As(err, &te))
}

func TestLoadUsesCacheWithinTTL(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	cache := schemacache.New(filepath.Join(t.TempDir(), "schema.json"), schemacache.WithClock(func() time.Time { return now }))
	tools := demoTools()
	d := NewDiscoverer(tools, 20, nil)
	opts := LoadOptions{Key: ConnectionKey("ops@example.com", "https://mcp.example.com/", "Demo"), Catalogs: []string{"Demo"}, TTLSeconds: 3600}

	first, hit, err := d.Load(context.Background(), cache, opts)
	require.NoError(t, err)
	assert.False(t, hit)
	discoveryCalls := len(tools.calls)

	second, hit, err := d.Load(context.Background(), cache, opts)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Len(t, tools.calls, discoveryCalls, "a cache hit must not touch the server")
	assert.Equal(t, first.TableCount(), second.TableCount())
}

func TestParseListingFormats(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, parseListing("CatalogName\nA\nB\nA\n", "CatalogName"))
	assert.Equal(t, []string{"x"}, parseListing(`{"results":[{"schema":[{"columnName":"Other"},{"columnName":"TableName"}],"rows":[["1","x"]]}]}`, "TABLE_NAME"))
	assert.Empty(t, parseListing("", "Name"))
}

func TestSummaryTruncates(t *testing.T) {
	schema := &Schema{Catalogs: []Catalog{{Name: "Demo", Tables: []Table{
		{Catalog: "Demo", Schema: "S", Name: "Account", Columns: []Column{{Name: "Id"}, {Name: "Name"}}},
	}}}}

	assert.Equal(t, "[Demo].[S].[Account] (Id, Name)", schema.Summary(0))
	assert.Equal(t, "[Demo].[S]...", schema.Summary(10))

	var empty *Schema
	assert.Equal(t, "(no schema discovered)", empty.Summary(100))
}

func TestSummaryKeepsRunesWhole(t *testing.T) {
	schema := &Schema{Catalogs: []Catalog{{Name: "Démo", Tables: []Table{
		{Catalog: "Démo", Schema: "Données", Name: "Clientèle"},
	}}}}

	full := schema.Summary(0)
	for n := 1; n < len(full); n++ {
		got := schema.Summary(n)
		require.True(t, utf8.ValidString(got), "cut at %d: %q", n, got)
		assert.LessOrEqual(t, len(got), n+len("..."))
	}
}

func TestConnectionKey(t *testing.T) {
	assert.Equal(t, "ops@example.com@https://mcp.example.com/Demo", ConnectionKey("Ops@Example.com", "https://mcp.example.com/", "Demo"))
	assert.Equal(t, "a@e/*", ConnectionKey("a", "e", ""))
}
