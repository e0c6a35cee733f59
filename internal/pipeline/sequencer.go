package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rahul/healthbrief/internal/observability"
)

// StepFunc transforms the state. Returning a nil state keeps the input.
type StepFunc func(ctx context.Context, s *State) (*State, error)

// Step is a named unit of work.
type Step struct {
	Name string
	Run  StepFunc
}

// ErrInvalidPipeline reports an empty or duplicate step name, or a step
// without a function.
var ErrInvalidPipeline = errors.New("invalid pipeline")

// StepError is returned when a step fails. State is the state as it stood
// when the failing step returned.
type StepError struct {
	Step  string
	Err   error
	State *State
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Sequencer runs steps strictly in order on the calling goroutine.
type Sequencer struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewSequencer(logger *zap.Logger) *Sequencer {
	return &Sequencer{logger: observability.Node(logger, "pipeline"), now: time.Now}
}

// Validate checks step names before anything runs.
func Validate(steps []Step) error {
	seen := make(map[string]bool, len(steps))
	for i, st := range steps {
		if st.Name == "" {
			return fmt.Errorf("%w: step %d has no name", ErrInvalidPipeline, i)
		}
		if seen[st.Name] {
			return fmt.Errorf("%w: duplicate step name %q", ErrInvalidPipeline, st.Name)
		}
		if st.Run == nil {
			return fmt.Errorf("%w: step %q has no function", ErrInvalidPipeline, st.Name)
		}
		seen[st.Name] = true
	}
	return nil
}

// Run executes steps in declaration order. The first failure aborts the run
// and later steps are never invoked.
func (q *Sequencer) Run(ctx context.Context, steps []Step, initial *State) (*State, error) {
	if err := Validate(steps); err != nil {
		return initial, err
	}
	if initial == nil {
		initial = &State{}
	}

	state := initial
	q.logger.Info("pipeline started", zap.String("run_id", state.RunID), zap.Strings("steps", names(steps)))

	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return state, &StepError{Step: st.Name, Err: err, State: state}
		}

		log := q.logger.With(zap.String("step", st.Name))
		log.Info("step started")
		started := q.now()

		next, err := st.Run(ctx, state)
		if next == nil {
			next = state
		}
		rec := StepRecord{
			Name:     st.Name,
			Status:   StepOK,
			Started:  started,
			Duration: q.now().Sub(started),
		}

		if err != nil {
			rec.Status = StepFailed
			rec.Err = err.Error()
			next.History = append(next.History, rec)
			log.Error("step failed", zap.Duration("duration", rec.Duration), zap.Error(err))
			return next, &StepError{Step: st.Name, Err: err, State: next}
		}

		next.History = append(next.History, rec)
		log.Info("step finished", zap.Duration("duration", rec.Duration))
		state = next
	}

	q.logger.Info("pipeline finished", zap.String("run_id", state.RunID))
	return state, nil
}

// Append returns a new list with extra steps at the end.
func Append(steps []Step, extra ...Step) []Step {
	out := make([]Step, 0, len(steps)+len(extra))
	out = append(out, steps...)
	return append(out, extra...)
}

// Insert returns a new list with extra placed before the step named before.
// An unknown name appends.
func Insert(steps []Step, before string, extra ...Step) []Step {
	out := make([]Step, 0, len(steps)+len(extra))
	inserted := false
	for _, st := range steps {
		if !inserted && st.Name == before {
			out = append(out, extra...)
			inserted = true
		}
		out = append(out, st)
	}
	if !inserted {
		out = append(out, extra...)
	}
	return out
}

// Prepend returns a new list with extra at the front.
func Prepend(steps []Step, extra ...Step) []Step {
	out := make([]Step, 0, len(steps)+len(extra))
	out = append(out, extra...)
	return append(out, steps...)
}

func names(steps []Step) []string {
	out := make([]string, len(steps))
	for i, st := range steps {
		out[i] = st.Name
	}
	return out
}
