// Package render writes the static HTML and JSON artifacts of a run.
package render

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html"
	"html/template"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/rahul/healthbrief/internal/mcp"
	"github.com/rahul/healthbrief/internal/pipeline"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const timestampLayout = "20060102_150405"

// highlightPattern marks amounts, percentages, quantities, dates and periods.
// Alternatives are tried left to right, so one pass never nests tags.
var highlightPattern = regexp.MustCompile(strings.Join([]string{
	`\$[\d,]+(?:\.\d{1,2})?[KMB]?`,
	`\d+(?:\.\d+)?%`,
	`\d[\d,.]*[KMB]\+?\s*(?:records|rows|runs|users|items)`,
	`(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{4}`,
	`\d{4}\s+Q[1-4]`,
	`~?\d+(?:-\d+)?\s*months?`,
}, "|"))

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Renderer owns the parsed templates and the sanitising policy.
type Renderer struct {
	tmpl     *template.Template
	policy   *bluemonday.Policy
	markdown goldmark.Markdown
	now      func() time.Time
}

type Option func(*Renderer)

// WithClock replaces time.Now for file names and footers.
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) { r.now = now }
}

func New(opts ...Option) (*Renderer, error) {
	tmpl, err := template.New("render").ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	r := &Renderer{
		tmpl:     tmpl,
		policy:   bluemonday.UGCPolicy(),
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Highlight escapes text and wraps notable figures in <strong>.
func (r *Renderer) Highlight(text string) template.HTML {
	escaped := html.EscapeString(text)
	marked := highlightPattern.ReplaceAllString(escaped, "<strong>$0</strong>")
	return template.HTML(r.policy.Sanitize(marked))
}

// Markdown converts md to sanitised HTML.
func (r *Renderer) Markdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(md), &buf); err != nil {
		return template.HTML(html.EscapeString(md))
	}
	return template.HTML(r.policy.SanitizeBytes(buf.Bytes()))
}

// Slug makes a file-name-safe fragment of at most 40 characters.
func Slug(text string) string {
	s := slugPattern.ReplaceAllString(strings.ToLower(text), "_")
	if len(s) > 40 {
		s = s[:40]
	}
	s = strings.Trim(s, "_")
	if s == "" {
		return "brief"
	}
	return s
}

type field struct {
	Name  string
	Value string
}

type healthView struct {
	Title           string
	Industry        string
	Label           string
	LabelClass      string
	Badge           string
	Reasoning       template.HTML
	NoData          bool
	AccountRows     []field
	Signals         []field
	Recommendations []template.HTML
	Risks           []template.HTML
	Opportunities   []template.HTML
	RawOutput       string
	Fallback        bool
	Generated       string
}

// HealthBrief writes <outDir>/<ts>_<slug>_health_brief.html.
func (r *Renderer) HealthBrief(outDir string, s *pipeline.State) (string, error) {
	now := r.now()
	account := s.Gather.Account

	view := healthView{
		Title:     s.Request.Account,
		Industry:  stringField(account, "Industry"),
		Label:     strings.ToUpper(string(s.Health.Label)),
		NoData:    s.Health.NoData,
		RawOutput: s.Advice.RawOutput,
		Fallback:  s.Advice.Fallback,
		Generated: now.Format("2006-01-02 15:04:05 MST"),
	}
	if name := stringField(account, "Name"); name != "" {
		view.Title = name
	}
	view.LabelClass, view.Badge = labelStyle(s.Health.Label)
	if s.Health.NoData {
		view.Label = "NO DATA"
	}

	reasoning := s.Advice.Reasoning
	if reasoning == "" {
		reasoning = s.Health.Reasoning
	}
	if reasoning != "" {
		view.Reasoning = r.Highlight(reasoning)
	}

	for _, key := range []struct{ label, column string }{
		{"Account Name", "Name"},
		{"Industry", "Industry"},
		{"Annual Revenue", "AnnualRevenue"},
		{"Employees", "NumberOfEmployees"},
	} {
		v, ok := account[key.column]
		if !ok {
			continue
		}
		val := FormatNumber(v)
		if key.column == "AnnualRevenue" && val != "" {
			val = "$" + val
		}
		view.AccountRows = append(view.AccountRows, field{key.label, val})
	}
	if s.Health.LastContact != "" {
		view.AccountRows = append(view.AccountRows, field{"Last Activity", s.Health.LastContact})
	}
	for _, sig := range s.Health.Signals {
		view.Signals = append(view.Signals, field{sig.Name, sig.Value})
	}
	for _, item := range s.Advice.Recommendations {
		view.Recommendations = append(view.Recommendations, r.Highlight(item))
	}
	for _, item := range s.Advice.Risks {
		view.Risks = append(view.Risks, r.Highlight(item))
	}
	for _, item := range s.Advice.Opportunities {
		view.Opportunities = append(view.Opportunities, r.Highlight(item))
	}

	subject := s.Request.Account
	if subject == "" {
		subject = view.Title
	}
	path := filepath.Join(outDir, fmt.Sprintf("%s_%s_health_brief.html", now.Format(timestampLayout), Slug(subject)))
	return path, r.write(path, "health_brief.html.tmpl", view)
}

type queryView struct {
	Title      string
	ShortTitle string
	Question   string
	SQL        string
	NoData     bool
	Count      string
	Averages   []field
	Columns    []string
	Rows       [][]string
	Insights   template.HTML
	Generated  string
}

// QueryBrief writes <outDir>/<ts>_<slug>_query_brief.html.
func (r *Renderer) QueryBrief(outDir string, s *pipeline.State) (string, error) {
	now := r.now()
	rs := s.Query.Result

	title := s.Request.Question
	if title == "" {
		title = s.Query.SQL
	}
	short := title
	if utf8.RuneCountInString(short) > 50 {
		short = string([]rune(short)[:50])
	}

	view := queryView{
		Title:      title,
		ShortTitle: short,
		Question:   s.Request.Question,
		SQL:        s.Query.SQL,
		NoData:     rs.Len() == 0,
		Count:      humanize.Comma(int64(rs.Len())),
		Generated:  now.Format("2006-01-02 15:04:05 MST"),
	}
	if rs != nil {
		view.Columns = rs.Columns
		for _, row := range rs.Rows {
			line := make([]string, len(rs.Columns))
			for i, col := range rs.Columns {
				line[i] = FormatNumber(row[col])
			}
			view.Rows = append(view.Rows, line)
		}
		for _, avg := range ColumnAverages(rs, 3) {
			view.Averages = append(view.Averages, field{avg.Column, humanize.CommafWithDigits(math.Round(avg.Mean), 0)})
		}
	}
	if s.Insights != "" {
		view.Insights = r.Markdown(s.Insights)
	}

	subject := s.Request.Question
	if subject == "" {
		subject = "query"
	}
	path := filepath.Join(outDir, fmt.Sprintf("%s_%s_query_brief.html", now.Format(timestampLayout), Slug(subject)))
	return path, r.write(path, "query_brief.html.tmpl", view)
}

type queryExport struct {
	Question string           `json:"nl_query,omitempty"`
	SQL      string           `json:"sql_query"`
	Columns  []string         `json:"columns"`
	Results  []map[string]any `json:"results"`
	Count    int              `json:"count"`
	Insights string           `json:"insights,omitempty"`
}

// QueryJSON writes <outDir>/query_results_<ts>.json.
func (r *Renderer) QueryJSON(outDir string, s *pipeline.State) (string, error) {
	doc := queryExport{
		Question: s.Request.Question,
		SQL:      s.Query.SQL,
		Results:  []map[string]any{},
		Insights: s.Insights,
	}
	if rs := s.Query.Result; rs != nil {
		doc.Columns = rs.Columns
		doc.Results = rs.Rows
		doc.Count = rs.Len()
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode query results: %w", err)
	}
	path := filepath.Join(outDir, fmt.Sprintf("query_results_%s.json", r.now().Format(timestampLayout)))
	if err := writeFile(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func (r *Renderer) write(path, name string, view any) error {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, view); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	return writeFile(path, buf.Bytes())
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func labelStyle(label pipeline.HealthLabel) (class, badge string) {
	switch label {
	case pipeline.HealthGreen:
		return "green", "[OK]"
	case pipeline.HealthYellow:
		return "yellow", "[!]"
	case pipeline.HealthRed:
		return "red", "[X]"
	default:
		return "unknown", "[?]"
	}
}

func stringField(row map[string]any, key string) string {
	if row == nil {
		return ""
	}
	return mcp.FormatValue(row[key])
}

// FormatNumber groups thousands for numeric values and falls back to
// mcp.FormatValue for everything else.
func FormatNumber(v any) string {
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return humanize.Comma(int64(x))
		}
		return humanize.CommafWithDigits(x, 2)
	case int:
		return humanize.Comma(int64(x))
	case int64:
		return humanize.Comma(x)
	default:
		return mcp.FormatValue(v)
	}
}

// Average is the mean of one numeric column.
type Average struct {
	Column string
	Mean   float64
}

// ColumnAverages returns the means of up to limit columns holding at least
// one numeric value, in column order.
func ColumnAverages(rs *mcp.ResultSet, limit int) []Average {
	if rs == nil {
		return nil
	}
	var out []Average
	for _, col := range rs.Columns {
		if limit > 0 && len(out) >= limit {
			break
		}
		var sum float64
		n := 0
		for _, row := range rs.Rows {
			if f, ok := row[col].(float64); ok {
				sum += f
				n++
			}
		}
		if n > 0 {
			out = append(out, Average{Column: col, Mean: sum / float64(n)})
		}
	}
	return out
}
