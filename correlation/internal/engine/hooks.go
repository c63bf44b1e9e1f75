package engine

import (
	"context"
	"time"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/models"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/rules"
)

// RuleOutcome is passed to post-rule hooks. Err is set when the rule could not be
// evaluated and will be left out of the results.
type RuleOutcome struct {
	Result   Result
	Err      error
	Duration time.Duration
}

type (
	PreRuleHook       func(ctx context.Context, rule *rules.Rule)
	PostRuleHook      func(ctx context.Context, rule *rules.Rule, outcome RuleOutcome)
	PreAggregateHook  func(ctx context.Context, rule *rules.Rule, events []*models.Event)
	PostAggregateHook func(ctx context.Context, rule *rules.Rule, groups Groups)
)

// Hooks are observation points around rule evaluation, used for metrics and audit.
// Register hooks before the first Run; a Hooks value is read concurrently by workers.
// Hooks must not modify the events or groups they receive.
type Hooks struct {
	preRule       []PreRuleHook
	postRule      []PostRuleHook
	preAggregate  []PreAggregateHook
	postAggregate []PostAggregateHook
}

// NewHooks returns an empty hook set.
func NewHooks() *Hooks {
	return &Hooks{}
}

func (h *Hooks) OnPreRule(fn PreRuleHook) *Hooks {
	h.preRule = append(h.preRule, fn)
	return h
}

func (h *Hooks) OnPostRule(fn PostRuleHook) *Hooks {
	h.postRule = append(h.postRule, fn)
	return h
}

func (h *Hooks) OnPreAggregate(fn PreAggregateHook) *Hooks {
	h.preAggregate = append(h.preAggregate, fn)
	return h
}

func (h *Hooks) OnPostAggregate(fn PostAggregateHook) *Hooks {
	h.postAggregate = append(h.postAggregate, fn)
	return h
}

func (h *Hooks) firePreRule(ctx context.Context, rule *rules.Rule) {
	if h == nil {
		return
	}
	for _, fn := range h.preRule {
		fn(ctx, rule)
	}
}

func (h *Hooks) firePostRule(ctx context.Context, rule *rules.Rule, outcome RuleOutcome) {
	if h == nil {
		return
	}
	for _, fn := range h.postRule {
		fn(ctx, rule, outcome)
	}
}

// FirePreAggregate runs the pre-aggregate hooks. Strategies call it between
// collection and aggregation.
func (h *Hooks) FirePreAggregate(ctx context.Context, rule *rules.Rule, events []*models.Event) {
	if h == nil {
		return
	}
	for _, fn := range h.preAggregate {
		fn(ctx, rule, events)
	}
}

// FirePostAggregate runs the post-aggregate hooks. Strategies call it between
// aggregation and analysis.
func (h *Hooks) FirePostAggregate(ctx context.Context, rule *rules.Rule, groups Groups) {
	if h == nil {
		return
	}
	for _, fn := range h.postAggregate {
		fn(ctx, rule, groups)
	}
}
