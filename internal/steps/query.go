package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rahul/healthbrief/internal/agent"
	"github.com/rahul/healthbrief/internal/governance"
	"github.com/rahul/healthbrief/internal/llm"
	"github.com/rahul/healthbrief/internal/pipeline"
)

// ErrNoSQL is returned when neither the request nor the model produced SQL.
var ErrNoSQL = errors.New("no SQL to run")

const (
	schemaSummaryLimit = 6000
	insightSampleSize  = 5
	noRowsInsight      = "No data found for your query."
)

// Translate turns the natural-language question into one read-only SQL
// statement, letting the model explore metadata on the way.
func Translate(d *Deps) pipeline.Step {
	return pipeline.Step{Name: StepTranslate, Run: func(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
		log := d.log(StepTranslate)

		schema, err := d.loadSchema(ctx, StepTranslate)
		if err != nil {
			return s, fmt.Errorf("load schema: %w", err)
		}
		s.Schema = schema

		tables := d.Config.Tables()
		system, err := d.Prompts.Compose(agent.TranslateData{
			Connection:    d.Config.Connection(),
			Schema:        tables.Schema,
			Tables:        fmt.Sprintf("%s, %s, %s", tables.Account, tables.Opportunity, tables.Case),
			AccountTable:  tables.Account,
			CaseTable:     tables.Case,
			SchemaSummary: schema.Summary(schemaSummaryLimit),
			MaxIterations: d.Config.Agent.MaxIterations,
		}, agent.PromptIdentity, agent.PromptTranslate)
		if err != nil {
			return s, err
		}

		explorer := agent.NewExplorer(d.Model, d.MCP, d.Policy, d.Config.Agent.MaxIterations, log)
		explorer.CallOptions = d.callOptions()

		answer, err := explorer.Run(ctx, system, s.Request.Question)
		if err != nil {
			return s, fmt.Errorf("translate question: %w", err)
		}

		sql := llm.CleanSQL(answer)
		if sql == "" {
			return s, fmt.Errorf("%w: model reply was empty", ErrNoSQL)
		}
		if err := governance.Enforce(ctx, d.Policy, governance.Request{Tool: string(agent.ToolQueryData), Statement: sql, Source: StepTranslate}); err != nil {
			return s, err
		}

		s.Query = pipeline.Query{SQL: sql}
		log.Info("translated question", zap.String("sql", sql))
		return s, nil
	}}
}

// Query executes the translated SQL, or the raw SQL from the request.
func Query(d *Deps) pipeline.Step {
	return pipeline.Step{Name: StepQuery, Run: func(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
		sql := s.Query.SQL
		if sql == "" {
			sql = llm.CleanSQL(s.Request.SQL)
		}
		if sql == "" {
			return s, ErrNoSQL
		}
		if err := governance.Enforce(ctx, d.Policy, governance.Request{Tool: string(agent.ToolQueryData), Statement: sql, Source: StepQuery}); err != nil {
			return s, err
		}

		rs, err := d.MCP.Query(ctx, sql)
		if err != nil {
			return s, fmt.Errorf("run query: %w", err)
		}

		s.Query = pipeline.Query{SQL: sql, Result: rs, NoData: rs.Len() == 0}
		d.log(StepQuery).Info("query finished", zap.Int("rows", rs.Len()))
		return s, nil
	}}
}

type insightsData struct {
	Question   string
	Total      int
	SampleSize int
	Sample     string
}

// Insights summarizes the result rows. A failed model call is reported in
// the text instead of failing the run.
func Insights(d *Deps) pipeline.Step {
	return pipeline.Step{Name: StepInsights, Run: func(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
		rs := s.Query.Result
		if rs == nil || rs.Len() == 0 {
			s.Insights = noRowsInsight
			return s, nil
		}

		sample := rs.Rows
		if len(sample) > insightSampleSize {
			sample = sample[:insightSampleSize]
		}
		raw, err := json.MarshalIndent(sample, "", "  ")
		if err != nil {
			return s, err
		}

		prompt, err := d.Prompts.Render(agent.PromptInsights, insightsData{
			Question:   s.Request.Question,
			Total:      rs.Len(),
			SampleSize: len(sample),
			Sample:     string(raw),
		})
		if err != nil {
			return s, err
		}

		reply, err := llm.Complete(ctx, d.Model, "", prompt, d.callOptions()...)
		if err != nil {
			if ctx.Err() != nil {
				return s, ctx.Err()
			}
			d.log(StepInsights).Warn("insight generation failed", zap.Error(err))
			s.Insights = fmt.Sprintf("(Could not generate insights: %v)", err)
			return s, nil
		}
		s.Insights = reply
		return s, nil
	}}
}

// Export writes the JSON export and the HTML query brief.
func Export(d *Deps) pipeline.Step {
	return pipeline.Step{Name: StepExport, Run: func(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
		jsonPath, err := d.Renderer.QueryJSON(d.Config.App.OutputDir, s)
		if err != nil {
			return s, err
		}
		s.Artifacts.JSONPath = jsonPath

		htmlPath, err := d.Renderer.QueryBrief(d.Config.App.OutputDir, s)
		if err != nil {
			return s, err
		}
		s.Artifacts.HTMLPath = htmlPath

		d.log(StepExport).Info("exported results", zap.String("json", jsonPath), zap.String("html", htmlPath))
		return s, nil
	}}
}
