package steps

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rahul/healthbrief/internal/pipeline"
)

// InvalidateCache drops every cached schema so the next load rediscovers.
func InvalidateCache(d *Deps) pipeline.Step {
	return pipeline.Step{Name: StepInvalidateCache, Run: func(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
		if err := d.Cache.InvalidateAll(); err != nil {
			return s, fmt.Errorf("invalidate schema cache: %w", err)
		}
		d.log(StepInvalidateCache).Info("schema cache cleared")
		return s, nil
	}}
}

// Notify posts a one-line summary to every messenger. Delivery failures are
// logged and never fail the run.
func Notify(d *Deps) pipeline.Step {
	return pipeline.Step{Name: StepNotify, Run: func(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
		log := d.log(StepNotify)
		text := Summary(s)

		for _, m := range d.Messengers {
			if err := m.Send(ctx, text); err != nil {
				log.Warn("notification failed", zap.String("gateway", m.Name()), zap.Error(err))
				continue
			}
			s.Notified = true
			log.Info("notification sent", zap.String("gateway", m.Name()))
		}
		return s, nil
	}}
}

// Summary is the one-line message sent by Notify.
func Summary(s *pipeline.State) string {
	var sb strings.Builder
	switch s.Mode {
	case pipeline.ModeAccount:
		if s.Health.NoData {
			fmt.Fprintf(&sb, "Health brief for %s: no data found.", s.Request.Account)
		} else {
			fmt.Fprintf(&sb, "Health brief for %s: %s, %d recommendations.",
				s.Request.Account, strings.ToUpper(string(s.Health.Label)), len(s.Advice.Recommendations))
		}
	default:
		rows := 0
		if s.Query.Result != nil {
			rows = s.Query.Result.Len()
		}
		fmt.Fprintf(&sb, "Query returned %d rows.", rows)
	}
	if s.Artifacts.HTMLPath != "" {
		fmt.Fprintf(&sb, " Report: %s", s.Artifacts.HTMLPath)
	}
	return sb.String()
}

// Build returns the step list for a run. A forced refresh puts
// invalidate_cache first in the modes that load a schema, and notify is
// appended when any messenger is configured.
func Build(mode pipeline.Mode, req pipeline.Request, d *Deps) ([]pipeline.Step, error) {
	var steps []pipeline.Step
	switch mode {
	case pipeline.ModeAccount:
		steps = []pipeline.Step{Gather(d), Analyze(d), Recommend(d), Render(d)}
	case pipeline.ModeNLQuery:
		steps = []pipeline.Step{Translate(d), Query(d), Insights(d), Export(d)}
	case pipeline.ModeRawSQL:
		steps = []pipeline.Step{Query(d), Export(d)}
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", pipeline.ErrInvalidPipeline, mode)
	}

	if req.ForceRefresh && mode != pipeline.ModeRawSQL {
		steps = pipeline.Prepend(steps, InvalidateCache(d))
	}
	if len(d.Messengers) > 0 {
		steps = pipeline.Append(steps, Notify(d))
	}
	return steps, pipeline.Validate(steps)
}
