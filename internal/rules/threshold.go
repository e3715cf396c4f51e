package rules

import (
	"context"
	"time"

	"github.com/wisbric/siemgate/internal/alerting"
	"github.com/wisbric/siemgate/internal/store"
)

const maxSampleEventIDs = 5

// thresholdRunner evaluates a single Threshold plan. It is owned by
// exactly one shard's single-writer goroutine (spec §8), so its internal
// map needs no locking.
type thresholdRunner struct {
	rule    Rule
	plan    Threshold
	windows map[uint64]*slidingWindow
}

type slidingWindow struct {
	key       map[string]string
	hits      []time.Time
	sampleIDs []string
}

func newThresholdRunner(rule Rule, plan Threshold) *thresholdRunner {
	return &thresholdRunner{rule: rule, plan: plan, windows: make(map[uint64]*slidingWindow)}
}

// Evaluate maintains a sliding window of size WindowSec keyed by
// hash(KeySelector(event)). On each matching event it increments the
// window count; once it reaches CountGte it emits an alert (spec §4.L
// "Threshold evaluator").
func (r *thresholdRunner) Evaluate(_ context.Context, event store.Event, now time.Time) (*alerting.Alert, error) {
	if !Match(r.plan.Filters, event) {
		return nil, nil
	}

	key := groupKey(r.plan.KeySelector, event)
	h := hashKey(key)

	w, ok := r.windows[h]
	if !ok {
		w = &slidingWindow{key: key}
		r.windows[h] = w
	}

	cutoff := now.Add(-time.Duration(r.plan.WindowSec) * time.Second)
	hits := w.hits[:0]
	for _, t := range w.hits {
		if t.After(cutoff) {
			hits = append(hits, t)
		}
	}
	w.hits = append(hits, now)

	w.sampleIDs = append(w.sampleIDs, event.EventID)
	if len(w.sampleIDs) > maxSampleEventIDs {
		w.sampleIDs = w.sampleIDs[len(w.sampleIDs)-maxSampleEventIDs:]
	}

	if uint64(len(w.hits)) < r.plan.CountGte {
		return nil, nil
	}

	windowBucket := now.Unix() / int64(r.plan.WindowSec)
	alert := &alerting.Alert{
		RuleID:         r.rule.RuleID,
		RuleName:       r.rule.RuleName,
		TenantID:       r.rule.TenantID,
		Severity:       r.rule.Severity,
		CreatedAt:      now,
		WindowStart:    w.hits[0],
		WindowEnd:      now,
		Key:            key,
		Count:          uint64(len(w.hits)),
		SampleEventIDs: append([]string(nil), w.sampleIDs...),
		DedupHash:      dedupHash(r.rule.RuleID, key, windowBucket),
	}
	return alert, nil
}

func (r *thresholdRunner) throttleSeconds() int { return r.plan.ThrottleSeconds }
