package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rahul/healthbrief/internal/discovery"
	"github.com/rahul/healthbrief/internal/mcp"
	"github.com/rahul/healthbrief/internal/observability"
	"github.com/rahul/healthbrief/internal/schemacache"
	"github.com/rahul/healthbrief/internal/store"
	"github.com/rahul/healthbrief/pkg/config"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the schema cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := schemacache.New(a.cfg.Cache.Path, schemacache.WithLogger(a.logger))
			if err := c.InvalidateAll(); err != nil {
				return err
			}
			a.console.OK("Schema cache cleared: %s", c.Path())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "List cached schemas and their expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := schemacache.New(a.cfg.Cache.Path, schemacache.WithLogger(a.logger))
			entries := c.Entries()
			if len(entries) == 0 {
				a.console.Info("Schema cache is empty (%s)", c.Path())
				return nil
			}

			now := time.Now()
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				state := "valid"
				if !e.ValidAt(now) {
					state = "expired"
				}
				rows = append(rows, []string{
					e.ConnectionKey,
					humanize.Time(e.DiscoveredAt),
					e.ExpiresAt().Local().Format(time.DateTime),
					state,
				})
			}
			a.console.Table([]string{"Connection", "Discovered", "Expires", "State"}, rows)
			return nil
		},
	})
	return cmd
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and test the MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.check(cmd.Context())
		},
	}
}

func (a *app) check(ctx context.Context) error {
	c := a.console
	failed := false

	if err := a.cfg.Validate(); err != nil {
		failed = true
		var ve *config.ValidationError
		if errors.As(err, &ve) {
			for _, p := range ve.Problems {
				c.Fail("config: %s", p)
			}
		} else {
			c.Fail("config: %v", err)
		}
	} else {
		c.OK("Configuration valid (data source %s, connection %s, model %s/%s)",
			a.cfg.DataSource.Kind, a.cfg.Connection(), a.cfg.LLM.Provider, a.cfg.LLM.Model)
	}

	timeout := time.Duration(a.cfg.App.HTTPTimeoutSeconds) * time.Second
	client := mcp.New(a.cfg.CData.Endpoint, a.cfg.CData.Email, a.cfg.CData.PAT, timeout,
		mcp.WithLogger(observability.Node(a.logger, "mcp")),
		mcp.WithClientName(a.cfg.App.Name),
	)
	if err := client.Initialize(ctx); err != nil {
		failed = true
		c.Fail("MCP endpoint %s: %v", client.Endpoint(), err)
	} else {
		info := client.ServerInfo()
		c.OK("MCP endpoint %s (%s %s)", client.Endpoint(), info.Name, info.Version)
		if tools, err := client.ListTools(ctx); err == nil {
			c.Info("%d tools available", len(tools))
		}
	}

	cache := schemacache.New(a.cfg.Cache.Path, schemacache.WithLogger(a.logger))
	key := discovery.ConnectionKey(a.cfg.CData.Email, a.cfg.CData.Endpoint, a.cfg.Connection())
	if e, ok := cache.Get(key); ok {
		c.OK("Schema cached %s, expires %s", humanize.Time(e.DiscoveredAt), humanize.Time(e.ExpiresAt()))
	} else {
		c.Warn("No fresh schema cached for %s", key)
	}

	if failed {
		return errors.New("check failed")
	}
	return nil
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Memory.Path == "" {
				a.console.Info("Run history is disabled (HISTORY_DB is empty)")
				return nil
			}
			h, err := store.NewHistoryStore(a.cfg.Memory.Path)
			if err != nil {
				return err
			}
			defer h.Close()

			runs, err := h.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				a.console.Info("No runs recorded yet")
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				status := r.Status
				if r.Error != "" {
					status = fmt.Sprintf("%s: %s", r.Status, r.Error)
				}
				rows = append(rows, []string{
					humanize.Time(r.StartedAt),
					r.Mode,
					r.Subject,
					r.Health,
					status,
					r.Duration.Round(time.Millisecond).String(),
					strconv.FormatInt(r.LLMCalls, 10),
					strconv.FormatInt(r.MCPCalls, 10),
				})
			}
			a.console.Table([]string{"Started", "Mode", "Subject", "Health", "Status", "Duration", "LLM", "MCP"}, rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of runs to show")
	return cmd
}
