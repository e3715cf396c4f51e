package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/wisbric/siemgate/internal/alerting"
	"github.com/wisbric/siemgate/internal/store"
)

// runner is the uniform shape every plan-specific evaluator satisfies, so
// the engine can dispatch without a type switch per event.
type runner interface {
	evaluate(ctx context.Context, event store.Event, now time.Time) (*alerting.Alert, error)
	throttleSeconds() int
}

type thresholdAdapter struct{ *thresholdRunner }

func (a thresholdAdapter) evaluate(ctx context.Context, event store.Event, now time.Time) (*alerting.Alert, error) {
	return a.thresholdRunner.Evaluate(ctx, event, now)
}

type sequenceAdapter struct{ *sequenceRunner }

func (a sequenceAdapter) evaluate(ctx context.Context, event store.Event, now time.Time) (*alerting.Alert, error) {
	return a.sequenceRunner.Evaluate(ctx, event, now)
}

type cardinalityAdapter struct{ *cardinalityRunner }

func (a cardinalityAdapter) evaluate(ctx context.Context, event store.Event, now time.Time) (*alerting.Alert, error) {
	return a.cardinalityRunner.Evaluate(ctx, event, now)
}

// newRunner builds the plan-specific evaluator for rule, failing closed on
// an unrecognized plan type (new StreamPlan variants must be wired here
// explicitly, never silently skipped).
func newRunner(rule Rule, check Checkpointer) (runner, error) {
	switch plan := rule.Plan.(type) {
	case Threshold:
		return thresholdAdapter{newThresholdRunner(rule, plan)}, nil
	case Sequence2:
		return sequenceAdapter{newSequenceRunner(rule, plan, check)}, nil
	case Cardinality:
		return cardinalityAdapter{newCardinalityRunner(rule, plan)}, nil
	default:
		return nil, fmt.Errorf("rules: unsupported plan type %T for rule %s", plan, rule.RuleID)
	}
}
