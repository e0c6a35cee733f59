package render

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/healthbrief/internal/mcp"
	"github.com/rahul/healthbrief/internal/pipeline"
)

var fixedNow = time.Date(2026, 4, 2, 15, 4, 5, 0, time.UTC)

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := New(WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return r
}

func loadDoc(t *testing.T, path string) *goquery.Document {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	require.NoError(t, err)
	return doc
}

func TestHighlight(t *testing.T) {
	r := newRenderer(t)

	got := string(r.Highlight("Pipeline of $243,750 grew 65% since September 2026; renew within 6-9 months."))
	assert.Contains(t, got, "<strong>$243,750</strong>")
	assert.Contains(t, got, "<strong>65%</strong>")
	assert.Contains(t, got, "<strong>September 2026</strong>")
	assert.Contains(t, got, "<strong>6-9 months</strong>")

	assert.Contains(t, string(r.Highlight("Plan for 2026 Q1")), "<strong>2026 Q1</strong>")
	assert.Contains(t, string(r.Highlight("Ingested 27M+ records")), "<strong>27M+ records</strong>")

	escaped := string(r.Highlight(`<script>alert("x")</script> costs $5`))
	assert.NotContains(t, escaped, "<script>")
	assert.Contains(t, escaped, "<strong>$5</strong>")
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "acme_corp", Slug("Acme Corp."))
	assert.Equal(t, "top_10_customers_by_revenue", Slug("Top 10 customers by revenue?"))
	assert.Equal(t, "brief", Slug("!!!"))
	assert.LessOrEqual(t, len(Slug(strings.Repeat("word ", 30))), 40)
}

func TestHealthBrief(t *testing.T) {
	r := newRenderer(t)
	dir := t.TempDir()

	state := pipeline.NewState("r1", pipeline.ModeAccount, pipeline.Request{Account: "Acme Corp"})
	state.Gather = pipeline.Gathered{
		AccountFound: true,
		Account:      map[string]any{"Name": "Acme Corp", "Industry": "Energy", "AnnualRevenue": float64(1500000)},
	}
	state.Health = pipeline.Health{
		Label:   pipeline.HealthYellow,
		Signals: []pipeline.Signal{{Name: "Open Cases", Value: "6"}, {Name: "High-Priority Cases", Value: "1"}},
	}
	state.Advice = pipeline.Advice{
		Reasoning:       "One escalated ticket worth $20,000.",
		Recommendations: []string{"Call the sponsor", "Review 2 tickets"},
		Risks:           []string{"Renewal in 3 months"},
	}

	path, err := r.HealthBrief(dir, state)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20260402_150405_acme_corp_health_brief.html"), path)

	doc := loadDoc(t, path)
	assert.Contains(t, doc.Find("#health-label").Text(), "YELLOW")
	assert.Equal(t, 2, doc.Find("#recommendations li").Length())
	assert.Equal(t, "3 months", doc.Find("#risks li strong").First().Text())
	assert.Equal(t, 2, doc.Find("#signals .signal-card").Length())
	assert.Contains(t, doc.Find("#account-summary").Text(), "$1,500,000")
	assert.Equal(t, 0, doc.Find("#no-data").Length())
	assert.Equal(t, 0, doc.Find("#opportunities").Length())
}

func TestHealthBriefNoData(t *testing.T) {
	r := newRenderer(t)
	state := pipeline.NewState("r1", pipeline.ModeAccount, pipeline.Request{Account: "Ghost Inc"})
	state.Health = pipeline.Health{Label: pipeline.HealthUnknown, NoData: true}

	path, err := r.HealthBrief(t.TempDir(), state)
	require.NoError(t, err)

	doc := loadDoc(t, path)
	assert.Equal(t, "No data", doc.Find("#no-data h2").Text())
	assert.Contains(t, doc.Find("#no-data").Text(), "Ghost Inc")
	assert.Equal(t, 0, doc.Find("#recommendations").Length())
}

func TestQueryBriefAndJSON(t *testing.T) {
	r := newRenderer(t)
	dir := t.TempDir()

	state := pipeline.NewState("r2", pipeline.ModeNLQuery, pipeline.Request{Question: "Top customers by revenue"})
	state.Query = pipeline.Query{
		SQL: "SELECT TOP 2 [Name], [AnnualRevenue] FROM [A]",
		Result: &mcp.ResultSet{
			Columns: []string{"Name", "AnnualRevenue"},
			Rows: []map[string]any{
				{"Name": "Acme", "AnnualRevenue": float64(3000000)},
				{"Name": "Globex", "AnnualRevenue": float64(1000000)},
			},
		},
	}
	state.Insights = "**Acme** leads revenue."

	htmlPath, err := r.QueryBrief(dir, state)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20260402_150405_top_customers_by_revenue_query_brief.html"), htmlPath)

	doc := loadDoc(t, htmlPath)
	assert.Equal(t, 2, doc.Find("#results tbody tr").Length())
	assert.Equal(t, "3,000,000", doc.Find("#results tbody tr").First().Find("td").Eq(1).Text())
	assert.Contains(t, doc.Find("#summary").Text(), "AnnualRevenue Avg")
	assert.Contains(t, doc.Find("#summary").Text(), "2,000,000")
	assert.Equal(t, "Acme", doc.Find("#insights strong").Text())
	assert.Equal(t, "Top customers by revenue", doc.Find("#question").Text())

	jsonPath, err := r.QueryJSON(dir, state)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "query_results_20260402_150405.json"), jsonPath)

	raw, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var doc2 map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc2))
	assert.EqualValues(t, 2, doc2["count"])
	assert.Equal(t, "Top customers by revenue", doc2["nl_query"])
}

func TestQueryBriefNoRows(t *testing.T) {
	r := newRenderer(t)
	state := pipeline.NewState("r3", pipeline.ModeRawSQL, pipeline.Request{SQL: "SELECT 1"})
	state.Query = pipeline.Query{SQL: "SELECT 1", Result: &mcp.ResultSet{Rows: []map[string]any{}}, NoData: true}

	path, err := r.QueryBrief(t.TempDir(), state)
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(path), "_query_query_brief.html")

	doc := loadDoc(t, path)
	assert.Equal(t, "No data", doc.Find("#no-data h2").Text())
	assert.Equal(t, 0, doc.Find("#results").Length())
}

func TestQueryBriefShortTitleKeepsRunesWhole(t *testing.T) {
	r := newRenderer(t)
	question := "Quels clients à Besançon ont réglé leurs créances en décembre dernier ?"
	state := pipeline.NewState("r4", pipeline.ModeNLQuery, pipeline.Request{Question: question})
	state.Query = pipeline.Query{SQL: "SELECT 1", Result: &mcp.ResultSet{Rows: []map[string]any{}}, NoData: true}

	path, err := r.QueryBrief(t.TempDir(), state)
	require.NoError(t, err)

	title := loadDoc(t, path).Find("title").Text()
	short := strings.TrimPrefix(title, "Query Results: ")
	assert.True(t, utf8.ValidString(title))
	assert.Equal(t, 50, utf8.RuneCountInString(short))
	assert.True(t, strings.HasPrefix(question, short))
}

func TestMarkdownSanitises(t *testing.T) {
	r := newRenderer(t)
	out := string(r.Markdown("- one\n- two\n\n<script>alert(1)</script>"))
	assert.Contains(t, out, "<li>one</li>")
	assert.NotContains(t, out, "<script>")
}

func TestColumnAverages(t *testing.T) {
	rs := &mcp.ResultSet{
		Columns: []string{"Name", "A", "B", "C", "D"},
		Rows: []map[string]any{
			{"Name": "x", "A": float64(1), "B": float64(10), "C": float64(5), "D": float64(7)},
			{"Name": "y", "A": float64(3), "B": nil, "C": float64(5), "D": float64(7)},
		},
	}
	avgs := ColumnAverages(rs, 3)
	require.Len(t, avgs, 3)
	assert.Equal(t, Average{"A", 2}, avgs[0])
	assert.Equal(t, Average{"B", 10}, avgs[1])
	assert.Equal(t, "C", avgs[2].Column)
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "1,500,000", FormatNumber(float64(1500000)))
	assert.Equal(t, "1,234.5", FormatNumber(1234.5))
	assert.Equal(t, "42", FormatNumber(42))
	assert.Equal(t, "Acme", FormatNumber("Acme"))
	assert.Equal(t, "", FormatNumber(nil))
}
