package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rahul/healthbrief/internal/agent"
	"github.com/rahul/healthbrief/internal/gateway"
	"github.com/rahul/healthbrief/internal/governance"
	"github.com/rahul/healthbrief/internal/llm"
	"github.com/rahul/healthbrief/internal/mcp"
	"github.com/rahul/healthbrief/internal/observability"
	"github.com/rahul/healthbrief/internal/pipeline"
	"github.com/rahul/healthbrief/internal/render"
	"github.com/rahul/healthbrief/internal/schemacache"
	"github.com/rahul/healthbrief/internal/steps"
	"github.com/rahul/healthbrief/internal/store"
)

func newRunCmd(a *app) *cobra.Command {
	var req pipeline.Request

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Produce a health brief or answer a question",
		Example: `  healthbrief run --account "Acme Corp"
  healthbrief run --nlquery "Top 10 customers by revenue"
  healthbrief run --query "SELECT TOP 5 [Name] FROM [Conn].[Schema].[Account]"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := resolveMode(req)
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), mode, req)
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.Account, "account", "", "account name for a health brief")
	f.StringVar(&req.Question, "nlquery", "", "natural-language question")
	f.StringVar(&req.SQL, "query", "", "raw SQL statement")
	f.BoolVar(&req.ForceRefresh, "refresh-cache", false, "rediscover the schema before running")
	f.StringVar(&a.outputDir, "output", "", "directory for generated reports")
	cmd.MarkFlagsMutuallyExclusive("account", "nlquery", "query")
	cmd.MarkFlagsOneRequired("account", "nlquery", "query")
	return cmd
}

func resolveMode(req pipeline.Request) (pipeline.Mode, error) {
	switch {
	case strings.TrimSpace(req.Account) != "":
		return pipeline.ModeAccount, nil
	case strings.TrimSpace(req.Question) != "":
		return pipeline.ModeNLQuery, nil
	case strings.TrimSpace(req.SQL) != "":
		return pipeline.ModeRawSQL, nil
	}
	return "", errors.New("one of --account, --nlquery or --query must be non-empty")
}

func (a *app) run(ctx context.Context, mode pipeline.Mode, req pipeline.Request) error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	if observability.IsTerminal() {
		observability.PrintBanner(os.Stderr, "customer health orchestration")
	}

	deps, err := a.deps(ctx)
	if err != nil {
		return err
	}

	var history *store.HistoryStore
	if a.cfg.Memory.Path != "" {
		history, err = store.NewHistoryStore(a.cfg.Memory.Path)
		if err != nil {
			a.logger.Warn("run history unavailable", zap.Error(err))
		} else {
			defer history.Close()
		}
	}

	stepList, err := steps.Build(mode, req, deps)
	if err != nil {
		return err
	}

	initial := pipeline.NewState(uuid.NewString(), mode, req)
	started := time.Now()
	final, runErr := pipeline.NewSequencer(a.logger).Run(ctx, stepList, initial)
	a.stats.LogSummary(a.logger)

	if history != nil {
		if err := history.RecordRun(context.WithoutCancel(ctx), a.record(final, started, runErr)); err != nil {
			a.logger.Warn("could not record run", zap.Error(err))
		}
	}

	if runErr != nil {
		return runErr
	}
	a.report(final)
	return nil
}

func (a *app) deps(ctx context.Context) (*steps.Deps, error) {
	cfg := a.cfg
	timeout := time.Duration(cfg.App.HTTPTimeoutSeconds) * time.Second

	base, err := llm.New(ctx, cfg.LLM, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, err
	}

	client := mcp.New(cfg.CData.Endpoint, cfg.CData.Email, cfg.CData.PAT, timeout,
		mcp.WithLogger(observability.Node(a.logger, "mcp")),
		mcp.WithCallHook(func(string) { a.stats.MCPCalls.Inc() }),
		mcp.WithClientName(cfg.App.Name),
	)

	renderer, err := render.New()
	if err != nil {
		return nil, err
	}

	return &steps.Deps{
		Config:     cfg,
		MCP:        client,
		Model:      llm.NewCounting(base, a.stats, a.logger),
		Cache:      schemacache.New(cfg.Cache.Path, schemacache.WithLogger(observability.Node(a.logger, "cache"))),
		Renderer:   renderer,
		Prompts:    agent.NewPromptManager(cfg.App.PromptsDir, a.logger),
		Policy:     governance.NewReadOnlyPolicy(),
		Messengers: gateway.FromConfig(cfg.Gateways, observability.Node(a.logger, "gateway")),
		Logger:     a.logger,
	}, nil
}

func (a *app) record(s *pipeline.State, started time.Time, runErr error) store.Run {
	run := store.Run{
		ID:        s.RunID,
		Mode:      string(s.Mode),
		Subject:   s.Subject(),
		Status:    "ok",
		Artifact:  s.Artifacts.HTMLPath,
		StartedAt: started,
		Duration:  time.Since(started),
		LLMCalls:  a.stats.LLMCalls.Value(),
		MCPCalls:  a.stats.MCPCalls.Value(),
		Tokens:    a.stats.TotalTokens.Value(),
	}
	if s.Mode == pipeline.ModeAccount && s.Health.Label != "" {
		run.Health = string(s.Health.Label)
	}
	if runErr != nil {
		run.Status = "failed"
		run.Error = runErr.Error()
	}
	for i, h := range s.History {
		run.Steps = append(run.Steps, store.Step{
			Position:  i,
			Name:      h.Name,
			Status:    string(h.Status),
			StartedAt: h.Started,
			Duration:  h.Duration,
			Error:     h.Err,
		})
	}
	return run
}

func (a *app) report(s *pipeline.State) {
	c := a.console
	switch s.Mode {
	case pipeline.ModeAccount:
		if s.Health.NoData {
			c.Warn("No data found for account %q", s.Request.Account)
		} else {
			c.Health(string(s.Health.Label))
			for _, sig := range s.Health.Signals {
				c.Info("%s: %s", sig.Name, sig.Value)
			}
			if s.Advice.Fallback {
				c.Warn("Model output unavailable; showing standard recommendations")
			}
			var md strings.Builder
			md.WriteString("## Recommendations\n\n")
			for _, r := range s.Advice.Recommendations {
				fmt.Fprintf(&md, "- %s\n", r)
			}
			c.Markdown(md.String())
		}
	default:
		if s.Query.SQL != "" {
			c.Info("SQL: %s", s.Query.SQL)
		}
		if s.Query.NoData || s.Query.Result == nil {
			c.Warn("Query returned no rows")
		} else {
			c.Table(s.Query.Result.Columns, s.Query.Result.Strings())
		}
		if s.Insights != "" {
			c.Markdown(s.Insights)
		}
		if s.Artifacts.JSONPath != "" {
			c.OK("Results exported: %s", s.Artifacts.JSONPath)
		}
	}

	if s.Artifacts.HTMLPath != "" {
		c.OK("Report saved: %s", s.Artifacts.HTMLPath)
	}
	if s.Notified {
		c.OK("Summary sent")
	}
	c.Info("Calls: %d LLM, %d MCP, %d tokens in %s",
		a.stats.LLMCalls.Value(), a.stats.MCPCalls.Value(), a.stats.TotalTokens.Value(),
		a.stats.Elapsed().Round(time.Millisecond))
}
