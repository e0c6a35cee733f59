// Package discovery walks the metadata tools of the MCP endpoint and builds a
// catalog → schema → table → column map that is cached between runs.
package discovery

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

type Column struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

type Table struct {
	Catalog string   `json:"catalog"`
	Schema  string   `json:"schema"`
	Name    string   `json:"name"`
	Columns []Column `json:"columns,omitempty"`
}

// QualifiedName returns [catalog].[schema].[table].
func (t *Table) QualifiedName() string {
	return fmt.Sprintf("[%s].[%s].[%s]", t.Catalog, t.Schema, t.Name)
}

// HasColumn matches case-insensitively.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

// ColumnNames lists the discovered column names in order.
func (t *Table) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}

type Catalog struct {
	Name    string   `json:"name"`
	Schemas []string `json:"schemas"`
	Tables  []Table  `json:"tables"`
}

// Schema is the cached discovery payload.
type Schema struct {
	DiscoveredAt time.Time `json:"discoveredAt"`
	Catalogs     []Catalog `json:"catalogs"`
}

// TableCount counts tables across every catalog.
func (s *Schema) TableCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, c := range s.Catalogs {
		n += len(c.Tables)
	}
	return n
}

// FindTable looks a table up by name, case-insensitively. An empty schema
// matches any schema.
func (s *Schema) FindTable(schema, name string) (*Table, bool) {
	if s == nil {
		return nil, false
	}
	for ci := range s.Catalogs {
		tables := s.Catalogs[ci].Tables
		for ti := range tables {
			t := &tables[ti]
			if !strings.EqualFold(t.Name, name) {
				continue
			}
			if schema != "" && !strings.EqualFold(t.Schema, schema) {
				continue
			}
			return t, true
		}
	}
	return nil, false
}

// Summary renders one line per table for prompts, cut to at most maxLen
// bytes on a rune boundary.
// maxLen <= 0 means no limit.
func (s *Schema) Summary(maxLen int) string {
	if s == nil || len(s.Catalogs) == 0 {
		return "(no schema discovered)"
	}

	var sb strings.Builder
	for _, c := range s.Catalogs {
		for _, t := range c.Tables {
			sb.WriteString(t.QualifiedName())
			if len(t.Columns) > 0 {
				sb.WriteString(" (")
				for i, col := range t.Columns {
					if i > 0 {
						sb.WriteString(", ")
					}
					sb.WriteString(col.Name)
					if col.Type != "" {
						sb.WriteString(" ")
						sb.WriteString(col.Type)
					}
				}
				sb.WriteString(")")
			}
			sb.WriteString("\n")
		}
	}

	out := strings.TrimRight(sb.String(), "\n")
	if maxLen > 0 && len(out) > maxLen {
		return cutRunes(out, maxLen) + "..."
	}
	return out
}

// cutRunes returns at most n bytes of s, backing off to a rune boundary.
func cutRunes(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ConnectionKey identifies one connection in the schema cache.
func ConnectionKey(email, endpoint, catalog string) string {
	if catalog == "" {
		catalog = "*"
	}
	return strings.ToLower(email) + "@" + strings.TrimRight(endpoint, "/") + "/" + catalog
}
