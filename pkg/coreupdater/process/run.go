package process

import (
	"context"
	"time"
)

// Stepper is anything that advances a process by one step.
type Stepper interface {
	Process(ctx context.Context, id string) (*State, error)
}

// Budget bounds one invocation of Run. Zero fields are unlimited.
type Budget struct {
	MaxSteps    int
	MaxDuration time.Duration
}

// Exhausted reports whether steps or elapsed exceed the budget.
func (b Budget) Exhausted(steps int, elapsed time.Duration) bool {
	if b.MaxSteps > 0 && steps >= b.MaxSteps {
		return true
	}
	return b.MaxDuration > 0 && elapsed >= b.MaxDuration
}

// Run calls Process until the process is terminal, needs an external
// action, or the budget is exhausted. observe, if non-nil, sees every
// intermediate state. The last state is returned.
func Run(ctx context.Context, p Stepper, id string, budget Budget, observe func(*State)) (*State, error) {
	start := time.Now()
	var last *State

	for steps := 0; !budget.Exhausted(steps, time.Since(start)); steps++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}

		st, err := p.Process(ctx, id)
		if err != nil {
			return last, err
		}
		last = st
		if observe != nil {
			observe(st)
		}
		if st.Status.Terminal() || st.NeedsExternal() {
			break
		}
	}
	return last, nil
}
