package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/reconhawk/reconhawk-stack/common/logging"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/eventsource"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/models"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/repository"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/rules"
)

// Result is the per-rule outcome returned to callers. A rule that ran but produced
// nothing has Matched=false; a rule that failed has no Result at all.
type Result struct {
	RuleID              string     `json:"rule_id"`
	Meta                rules.Meta `json:"meta"`
	Matched             bool       `json:"matched"`
	CorrelationsCreated int        `json:"correlations_created"`
	CorrelationIDs      []string   `json:"correlation_ids,omitempty"`
}

// Request carries everything a strategy needs to evaluate one rule.
type Request struct {
	Rule    *rules.Rule
	ScanIDs []string
	Source  eventsource.Source
	Store   repository.ResultStore
	Hooks   *Hooks
	Policy  PersistPolicy
	Logger  *slog.Logger
}

// Strategy evaluates one rule type. New rule semantics are added by registering a
// new Strategy under a new type name.
type Strategy interface {
	Evaluate(ctx context.Context, req *Request) (Result, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, req *Request) (Result, error)

func (f StrategyFunc) Evaluate(ctx context.Context, req *Request) (Result, error) {
	return f(ctx, req)
}

// DefaultStrategy runs collect, aggregate, analyze, then render and persist.
type DefaultStrategy struct {
	collector  *Collector
	aggregator Aggregator
	analyzer   *Analyzer
	now        func() time.Time
}

// NewDefaultStrategy builds the built-in strategy over methods. enricher is only
// needed for rules with relational fields.
func NewDefaultStrategy(methods *Methods, enricher Enricher) *DefaultStrategy {
	return &DefaultStrategy{
		collector: NewCollector(methods, enricher),
		analyzer:  NewAnalyzer(methods),
		now:       time.Now,
	}
}

// Evaluate implements Strategy. Scan-scoped rules run once per scan id and the
// per-scan results are summed; pooled scopes run once over all scan ids.
func (s *DefaultStrategy) Evaluate(ctx context.Context, req *Request) (Result, error) {
	res := Result{RuleID: req.Rule.ID, Meta: req.Rule.Meta}

	var pools [][]string
	if req.Rule.Meta.Scope.Pooled() {
		ids := append([]string(nil), req.ScanIDs...)
		sort.Strings(ids)
		pools = [][]string{ids}
	} else {
		for _, id := range req.ScanIDs {
			pools = append(pools, []string{id})
		}
	}

	for _, pool := range pools {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		ids, err := s.evaluatePool(ctx, req, pool)
		if err != nil {
			return Result{}, err
		}
		res.CorrelationIDs = append(res.CorrelationIDs, ids...)
	}

	res.CorrelationsCreated = len(res.CorrelationIDs)
	res.Matched = res.CorrelationsCreated > 0
	return res, nil
}

func (s *DefaultStrategy) evaluatePool(ctx context.Context, req *Request, scanIDs []string) ([]string, error) {
	rule := req.Rule

	events, err := s.collector.Collect(ctx, rule, scanIDs, req.Source)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	req.Hooks.FirePreAggregate(ctx, rule, events)
	groups := s.aggregator.Aggregate(events, rule.Aggregation)
	req.Hooks.FirePostAggregate(ctx, rule, groups)

	var created []string
	for _, key := range groups.Keys() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		group := groups[key]

		ok, err := s.analyzer.Analyze(group, rule.Analysis, groups)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		rec := &models.CorrelationRecord{
			RuleID:           rule.ID,
			RuleName:         rule.Meta.Name,
			ScanIDs:          scanIDs,
			AggregationValue: group.Key,
			Headline:         RenderHeadline(rule.Headline, group),
			Risk:             rule.Meta.Risk,
			EventIDs:         group.EventIDs(),
			CreatedAt:        s.now().UTC(),
		}
		rec.ID = models.CorrelationID(rec.NaturalKey())

		id, err := req.Store.CreateCorrelation(ctx, rec)
		if err != nil {
			if req.Policy == PersistFailRule {
				return nil, fmt.Errorf("failed to store correlation for %q: %w", group.Key, err)
			}
			if req.Logger != nil {
				req.Logger.Error("failed to store correlation, group not counted",
					slog.String("aggregation_value", group.Key),
					logging.Error(err))
			}
			continue
		}
		created = append(created, id)
	}
	return created, nil
}
