package steps

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/rahul/healthbrief/internal/agent"
	"github.com/rahul/healthbrief/internal/discovery"
	"github.com/rahul/healthbrief/internal/llm"
	"github.com/rahul/healthbrief/internal/mcp"
	"github.com/rahul/healthbrief/internal/pipeline"
)

// Step names.
const (
	StepInvalidateCache = "invalidate_cache"
	StepGather          = "gather"
	StepAnalyze         = "analyze"
	StepRecommend       = "recommend"
	StepRender          = "render"
	StepTranslate       = "translate"
	StepQuery           = "query"
	StepInsights        = "insights"
	StepExport          = "export"
	StepNotify          = "notify"
)

var (
	accountColumns     = []string{"Id", "Name", "Industry", "AnnualRevenue", "NumberOfEmployees"}
	accountExtras      = []string{"LastActivityDate"}
	opportunityColumns = []string{"Id", "Name", "StageName", "Amount", "CloseDate", "Probability", "IsClosed"}
	caseColumns        = []string{"Id", "Subject", "Status", "Priority", "CreatedAt"}
	caseExtras         = []string{"CreatedDate"}
)

// FallbackRecommendations is used when the model is unreachable or its
// reply cannot be parsed.
var FallbackRecommendations = []string{
	"Immediate Action - Support Escalation: Monitor open cases closely and ensure timely resolution.",
	"Pipeline Growth: Nurture existing opportunities and identify upsell potential.",
	"Relationship Check-in: Schedule regular touchpoints to maintain account health.",
	"Industry Updates: Share relevant solutions and best practices for their industry.",
	"Risk Mitigation: Develop retention strategy if health score indicates risk.",
}

// Gather loads the schema, then fetches the account row and its related
// opportunities and cases. A missing account is not an error.
func Gather(d *Deps) pipeline.Step {
	return pipeline.Step{Name: StepGather, Run: func(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
		log := d.log(StepGather)

		schema, err := d.loadSchema(ctx, StepGather)
		if err != nil {
			return s, fmt.Errorf("load schema: %w", err)
		}
		s.Schema = schema

		tables := d.Config.Tables()
		accountTable := resolveTable(schema, d.Config.Connection(), tables.Schema, tables.Account)

		q := fmt.Sprintf("SELECT %s FROM %s WHERE [Name] = '%s'",
			selectList(accountTable, accountColumns, accountExtras), accountTable.QualifiedName(), escapeLiteral(s.Request.Account))
		rs, err := d.MCP.Query(ctx, q)
		if err != nil {
			return s, fmt.Errorf("query account: %w", err)
		}
		if rs.Len() == 0 {
			log.Warn("account not found", zap.String("account", s.Request.Account))
			s.Gather = pipeline.Gathered{}
			return s, nil
		}

		s.Gather = pipeline.Gathered{AccountFound: true, Account: rs.Rows[0]}
		id := mcp.FormatValue(rs.Rows[0]["Id"])
		if id == "" {
			log.Warn("account row has no Id; skipping related records")
			return s, nil
		}

		oppTable := resolveTable(schema, d.Config.Connection(), tables.Schema, tables.Opportunity)
		opps, err := d.MCP.Query(ctx, relatedQuery(oppTable, opportunityColumns, nil, id))
		if err != nil {
			return s, fmt.Errorf("query opportunities: %w", err)
		}
		s.Gather.Opportunities = opps.Rows

		caseTable := resolveTable(schema, d.Config.Connection(), tables.Schema, tables.Case)
		cases, err := d.MCP.Query(ctx, relatedQuery(caseTable, caseColumns, caseExtras, id))
		if err != nil {
			return s, fmt.Errorf("query cases: %w", err)
		}
		s.Gather.Cases = cases.Rows

		log.Info("gathered account data",
			zap.Int("opportunities", len(s.Gather.Opportunities)),
			zap.Int("cases", len(s.Gather.Cases)),
		)
		return s, nil
	}}
}

func relatedQuery(t *discovery.Table, columns, extras []string, accountID string) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE [AccountId] = '%s'",
		selectList(t, columns, extras), t.QualifiedName(), escapeLiteral(accountID))
}

// resolveTable prefers the discovered table so the catalog and column list
// match the server; otherwise it assumes the configured names.
func resolveTable(schema *discovery.Schema, catalog, schemaName, name string) *discovery.Table {
	if schema != nil {
		if t, ok := schema.FindTable(schemaName, name); ok {
			return t
		}
	}
	return &discovery.Table{Catalog: catalog, Schema: schemaName, Name: name}
}

// selectList keeps the wanted columns the table is known to have. Extras
// are only selected when discovery saw them.
func selectList(t *discovery.Table, wanted, extras []string) string {
	var cols []string
	if len(t.Columns) == 0 {
		cols = wanted
	} else {
		for _, c := range append(append([]string{}, wanted...), extras...) {
			if t.HasColumn(c) {
				cols = append(cols, c)
			}
		}
	}
	if len(cols) == 0 {
		return "*"
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = "[" + c + "]"
	}
	return strings.Join(quoted, ", ")
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Analyze classifies account health from the gathered rows. It never calls
// the model.
func Analyze(d *Deps) pipeline.Step {
	return pipeline.Step{Name: StepAnalyze, Run: func(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
		s.Health = Classify(s.Gather)
		if s.Health.NoData {
			s.Health.Reasoning = fmt.Sprintf("No data found for account %q.", s.Request.Account)
		}
		d.log(StepAnalyze).Info("classified account",
			zap.String("label", string(s.Health.Label)),
			zap.Int("open_cases", s.Health.OpenCases),
			zap.Int("high_priority", s.Health.HighPriorityCases),
		)
		return s, nil
	}}
}

// Classify applies the health rules: Red for more than 3 high-priority or
// more than 10 open cases, Yellow for any high-priority or more than 5
// open cases, Green otherwise.
func Classify(g pipeline.Gathered) pipeline.Health {
	if !g.AccountFound {
		return pipeline.Health{Label: pipeline.HealthUnknown, NoData: true}
	}

	var h pipeline.Health
	for _, c := range g.Cases {
		if !strings.EqualFold(mcp.FormatValue(c["Status"]), "Closed") {
			h.OpenCases++
		}
		if strings.EqualFold(mcp.FormatValue(c["Priority"]), "High") {
			h.HighPriorityCases++
		}
	}
	for _, o := range g.Opportunities {
		h.TotalPipeline += amount(o["Amount"])
	}

	h.LastContact = mcp.FormatValue(g.Account["LastActivityDate"])
	if h.LastContact == "" {
		h.LastContact = "Unknown"
	}

	switch {
	case h.HighPriorityCases > 3 || h.OpenCases > 10:
		h.Label = pipeline.HealthRed
	case h.HighPriorityCases > 0 || h.OpenCases > 5:
		h.Label = pipeline.HealthYellow
	default:
		h.Label = pipeline.HealthGreen
	}

	h.Signals = []pipeline.Signal{
		{Name: "Open Cases", Value: strconv.Itoa(h.OpenCases)},
		{Name: "High-Priority Cases", Value: strconv.Itoa(h.HighPriorityCases)},
		{Name: "Pipeline Value", Value: "$" + humanize.CommafWithDigits(h.TotalPipeline, 2)},
		{Name: "Opportunities", Value: strconv.Itoa(len(g.Opportunities))},
		{Name: "Total Cases", Value: strconv.Itoa(len(g.Cases))},
		{Name: "Last Contact", Value: h.LastContact},
	}
	h.Reasoning = fmt.Sprintf("%d open cases (%d high priority) and $%s in pipeline across %d opportunities.",
		h.OpenCases, h.HighPriorityCases, humanize.CommafWithDigits(h.TotalPipeline, 2), len(g.Opportunities))
	return h
}

func amount(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err == nil {
			return f
		}
	}
	return 0
}

type adviceReply struct {
	Reasoning       string   `json:"reasoning"`
	Recommendations []string `json:"recommendations"`
	Risks           []string `json:"risks"`
	Opportunities   []string `json:"opportunities"`
}

type recommendData struct {
	Name          string
	Industry      string
	AnnualRevenue string
	Label         pipeline.HealthLabel
	Signals       []pipeline.Signal
}

// Recommend asks the model for next steps. Model failures and unparsable
// replies fall back to a fixed list; only cancellation aborts the run.
func Recommend(d *Deps) pipeline.Step {
	return pipeline.Step{Name: StepRecommend, Run: func(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
		log := d.log(StepRecommend)
		if s.Health.NoData {
			log.Info("no data; skipping recommendations")
			s.Advice = pipeline.Advice{}
			return s, nil
		}

		account := s.Gather.Account
		prompt, err := d.Prompts.Render(agent.PromptRecommend, recommendData{
			Name:          mcp.FormatValue(account["Name"]),
			Industry:      orUnknown(mcp.FormatValue(account["Industry"])),
			AnnualRevenue: orUnknown(mcp.FormatValue(account["AnnualRevenue"])),
			Label:         s.Health.Label,
			Signals:       s.Health.Signals,
		})
		if err != nil {
			return s, err
		}
		system, err := d.Prompts.Get(agent.PromptIdentity)
		if err != nil {
			return s, err
		}

		reply, err := llm.Complete(ctx, d.Model, system, prompt, d.callOptions()...)
		if err != nil {
			if ctx.Err() != nil {
				return s, ctx.Err()
			}
			log.Warn("model call failed; using fallback recommendations", zap.Error(err))
			s.Advice = pipeline.Advice{
				Recommendations: FallbackRecommendations,
				Reasoning:       s.Health.Reasoning,
				Fallback:        true,
			}
			return s, nil
		}

		parsed, err := llm.ExtractJSONAs[adviceReply](reply)
		if err != nil || len(parsed.Recommendations) == 0 {
			log.Warn("could not parse model reply; using fallback recommendations", zap.Error(err))
			s.Advice = pipeline.Advice{
				Recommendations: FallbackRecommendations,
				Reasoning:       s.Health.Reasoning,
				RawOutput:       reply,
				Fallback:        true,
			}
			return s, nil
		}

		s.Advice = pipeline.Advice{
			Recommendations: parsed.Recommendations,
			Risks:           parsed.Risks,
			Opportunities:   parsed.Opportunities,
			Reasoning:       parsed.Reasoning,
		}
		log.Info("recommendations ready", zap.Int("count", len(parsed.Recommendations)))
		return s, nil
	}}
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// Render writes the HTML health brief.
func Render(d *Deps) pipeline.Step {
	return pipeline.Step{Name: StepRender, Run: func(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
		path, err := d.Renderer.HealthBrief(d.Config.App.OutputDir, s)
		if err != nil {
			return s, err
		}
		s.Artifacts.HTMLPath = path
		d.log(StepRender).Info("wrote health brief", zap.String("path", path))
		return s, nil
	}}
}
