package discovery

import (
	"context"
	"encoding/csv"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rahul/healthbrief/internal/mcp"
	"github.com/rahul/healthbrief/internal/schemacache"
)

// ToolCaller is the part of the MCP client discovery needs.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Store is the part of the schema cache discovery needs.
type Store interface {
	Get(key string) (*schemacache.Entry, bool)
	Put(key string, payload any, ttlSeconds int) error
}

type Discoverer struct {
	tools     ToolCaller
	maxTables int
	now       func() time.Time
	logger    *zap.Logger
}

func NewDiscoverer(tools ToolCaller, maxTables int, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{tools: tools, maxTables: maxTables, now: time.Now, logger: logger}
}

// Discover walks catalogs, schemas, tables and, for at most maxTables tables,
// columns. An empty catalog list asks the server for every catalog.
func (d *Discoverer) Discover(ctx context.Context, catalogs []string) (*Schema, error) {
	if len(catalogs) == 0 {
		text, err := d.tools.CallTool(ctx, mcp.ToolGetCatalogs, nil)
		if err != nil {
			return nil, fmt.Errorf("list catalogs: %w", err)
		}
		catalogs = parseListing(text, "TABLE_CATALOG", "CatalogName", "Catalog", "Name")
	} else {
		d.logger.Info("using configured catalog", zap.Strings("catalogs", catalogs))
	}

	schema := &Schema{DiscoveredAt: d.now().UTC()}
	budget := d.maxTables

	for _, catName := range catalogs {
		if catName == "" {
			continue
		}
		cat := Catalog{Name: catName}

		text, err := d.tools.CallTool(ctx, mcp.ToolGetSchemas, map[string]any{"catalogName": catName})
		if err != nil {
			return nil, fmt.Errorf("list schemas of %s: %w", catName, err)
		}
		cat.Schemas = parseListing(text, "TABLE_SCHEMA", "SchemaName", "Schema", "Name")

		scopes := cat.Schemas
		if len(scopes) == 0 {
			// some sources list no schemas; ask for every table in the catalog
			scopes = []string{""}
		}

		for _, schemaName := range scopes {
			text, err := d.tools.CallTool(ctx, mcp.ToolGetTables, map[string]any{
				"catalogName": catName,
				"schemaName":  schemaName,
			})
			if err != nil {
				return nil, fmt.Errorf("list tables of %s.%s: %w", catName, schemaName, err)
			}

			for _, table := range parseTables(text, catName, schemaName) {
				if schemaName == "" && table.Schema != "" && !slices.Contains(cat.Schemas, table.Schema) {
					cat.Schemas = append(cat.Schemas, table.Schema)
				}
				if budget > 0 {
					budget--
					cols, err := d.columns(ctx, table)
					if err != nil {
						return nil, err
					}
					table.Columns = cols
				}
				cat.Tables = append(cat.Tables, table)
			}
		}
		schema.Catalogs = append(schema.Catalogs, cat)
	}

	d.logger.Info("schema discovered",
		zap.Int("catalogs", len(schema.Catalogs)),
		zap.Int("tables", schema.TableCount()))
	return schema, nil
}

func (d *Discoverer) columns(ctx context.Context, t Table) ([]Column, error) {
	text, err := d.tools.CallTool(ctx, mcp.ToolGetColumns, map[string]any{
		"catalogName": t.Catalog,
		"schemaName":  t.Schema,
		"tableName":   t.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", t.QualifiedName(), err)
	}

	header, rows := parseTable(text)
	nameIdx := pickColumn(header, "COLUMN_NAME", "ColumnName", "Column", "Name")
	typeIdx := pickColumn(header, "DATA_TYPE_NAME", "TYPE_NAME", "DataType", "Type")
	if typeIdx == nameIdx {
		typeIdx = -1
	}

	var cols []Column
	for _, row := range rows {
		if nameIdx >= len(row) || row[nameIdx] == "" {
			continue
		}
		col := Column{Name: row[nameIdx]}
		if typeIdx >= 0 && typeIdx < len(row) {
			col.Type = row[typeIdx]
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// LoadOptions controls Load.
type LoadOptions struct {
	Key        string
	Catalogs   []string
	TTLSeconds int
}

// Load returns the cached schema for opts.Key when fresh, otherwise discovers
// and caches it. The bool reports a cache hit.
func (d *Discoverer) Load(ctx context.Context, store Store, opts LoadOptions) (*Schema, bool, error) {
	if entry, ok := store.Get(opts.Key); ok {
		var schema Schema
		err := entry.Decode(&schema)
		if err == nil {
			d.logger.Info("schema cache hit", zap.String("key", opts.Key))
			return &schema, true, nil
		}
		d.logger.Warn("cached schema unusable, rediscovering", zap.Error(err))
	} else {
		d.logger.Info("no schema cache, discovering", zap.String("key", opts.Key))
	}

	schema, err := d.Discover(ctx, opts.Catalogs)
	if err != nil {
		return nil, false, err
	}
	if err := store.Put(opts.Key, schema, opts.TTLSeconds); err != nil {
		// a run with a fresh schema is still useful without the cache
		d.logger.Warn("schema cache write failed", zap.Error(err))
	}
	return schema, false, nil
}

// parseListing extracts one value per row from a metadata listing.
func parseListing(text string, candidates ...string) []string {
	header, rows := parseTable(text)
	idx := pickColumn(header, candidates...)

	var out []string
	seen := make(map[string]bool)
	for _, row := range rows {
		if idx >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[idx])
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// parseTables reads a getTables listing. When schemaName is empty the
// schema comes from each row's TABLE_SCHEMA column, if present.
func parseTables(text, catalog, schemaName string) []Table {
	header, rows := parseTable(text)
	nameIdx := pickColumn(header, "TABLE_NAME", "TableName", "Table", "Name")
	schemaIdx := -1
	if schemaName == "" {
		schemaIdx = findColumn(header, "TABLE_SCHEMA", "SchemaName", "Schema")
	}

	var out []Table
	seen := make(map[string]bool)
	for _, row := range rows {
		if nameIdx >= len(row) {
			continue
		}
		t := Table{Catalog: catalog, Schema: schemaName, Name: strings.TrimSpace(row[nameIdx])}
		if schemaIdx >= 0 && schemaIdx < len(row) {
			t.Schema = strings.TrimSpace(row[schemaIdx])
		}
		key := t.Schema + "." + t.Name
		if t.Name == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

// parseTable accepts either a queryData-shaped JSON document or CSV with a
// header row.
func parseTable(text string) ([]string, [][]string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	if strings.HasPrefix(text, "{") {
		if rs, err := mcp.ParseResultSet(text); err == nil {
			return rs.Columns, rs.Strings()
		}
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil || len(records) == 0 {
		// plain newline-separated names
		var rows [][]string
		for _, line := range strings.Split(text, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				rows = append(rows, []string{line})
			}
		}
		if len(rows) == 0 {
			return nil, nil
		}
		return rows[0], rows[1:]
	}
	return records[0], records[1:]
}

func normalizeName(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
}

// pickColumn returns the first header matching a candidate, else 0.
func pickColumn(header []string, candidates ...string) int {
	if i := findColumn(header, candidates...); i >= 0 {
		return i
	}
	return 0
}

// findColumn is pickColumn without the default; -1 means no match.
func findColumn(header []string, candidates ...string) int {
	for _, c := range candidates {
		want := normalizeName(c)
		for i, h := range header {
			if normalizeName(h) == want {
				return i
			}
		}
	}
	return -1
}
