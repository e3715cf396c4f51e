package rules

import (
	"context"
	"time"

	"github.com/axiomhq/hyperloglog"

	"github.com/wisbric/siemgate/internal/alerting"
	"github.com/wisbric/siemgate/internal/store"
)

// cardinalityRunner evaluates a single Cardinality plan using a HyperLogLog
// sketch per (key, window bucket) to estimate distinct DistinctField
// values without retaining every observed value (spec §4.L "Cardinality
// evaluator"). Windows are tumbling rather than sliding: a HLL sketch
// cannot remove elements, so each WindowSec-wide bucket gets a fresh
// sketch rather than approximating a sliding window over a mergeable one.
type cardinalityRunner struct {
	rule    Rule
	plan    Cardinality
	windows map[uint64]*cardWindow
}

type cardWindow struct {
	key         map[string]string
	bucket      int64
	windowStart time.Time
	sketch      *hyperloglog.Sketch
	sampleIDs   []string
	fired       bool
}

func newCardinalityRunner(rule Rule, plan Cardinality) *cardinalityRunner {
	return &cardinalityRunner{rule: rule, plan: plan, windows: make(map[uint64]*cardWindow)}
}

func (r *cardinalityRunner) Evaluate(_ context.Context, event store.Event, now time.Time) (*alerting.Alert, error) {
	if !Match(r.plan.Filters, event) {
		return nil, nil
	}

	f := toFields(event)
	distinctVal, ok := f.lookup(r.plan.DistinctField)
	if !ok || distinctVal == nil {
		return nil, nil
	}

	key := groupKey(r.plan.KeySelector, event)
	h := hashKey(key)
	bucket := now.Unix() / int64(r.plan.WindowSec)

	w, ok := r.windows[h]
	if !ok || w.bucket != bucket {
		w = &cardWindow{key: key, bucket: bucket, windowStart: now, sketch: hyperloglog.New14()}
		r.windows[h] = w
	}

	w.sketch.Insert([]byte(toStr(distinctVal)))
	w.sampleIDs = append(w.sampleIDs, event.EventID)
	if len(w.sampleIDs) > maxSampleEventIDs {
		w.sampleIDs = w.sampleIDs[len(w.sampleIDs)-maxSampleEventIDs:]
	}

	estimate := w.sketch.Estimate()
	if estimate < r.plan.DistinctGte || w.fired {
		return nil, nil
	}
	w.fired = true

	alert := &alerting.Alert{
		RuleID:         r.rule.RuleID,
		RuleName:       r.rule.RuleName,
		TenantID:       r.rule.TenantID,
		Severity:       r.rule.Severity,
		CreatedAt:      now,
		WindowStart:    w.windowStart,
		WindowEnd:      now,
		Key:            key,
		Count:          estimate,
		SampleEventIDs: append([]string(nil), w.sampleIDs...),
		DedupHash:      dedupHash(r.rule.RuleID, key, bucket),
	}
	return alert, nil
}

func (r *cardinalityRunner) throttleSeconds() int { return r.plan.ThrottleSeconds }
