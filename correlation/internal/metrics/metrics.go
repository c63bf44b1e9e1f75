package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/engine"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/models"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/rules"
)

var (
	// Rule evaluation metrics
	RulesEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconhawk_correlation_rules_evaluated_total",
			Help: "Total number of rule evaluations by outcome",
		},
		[]string{"outcome"}, // matched, unmatched, failed
	)

	RuleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconhawk_correlation_rule_duration_seconds",
			Help:    "Duration of single rule evaluations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CorrelationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconhawk_correlation_records_created_total",
			Help: "Total number of correlation records created",
		},
		[]string{"risk"},
	)

	// Pipeline metrics
	EventsCollected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconhawk_correlation_events_collected_total",
			Help: "Total number of events matched by collection",
		},
	)

	GroupsAggregated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconhawk_correlation_groups_aggregated_total",
			Help: "Total number of aggregation groups built",
		},
	)

	// Run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconhawk_correlation_runs_total",
			Help: "Total number of correlation runs by trigger and status",
		},
		[]string{"trigger", "status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconhawk_correlation_run_duration_seconds",
			Help:    "Duration of correlation runs in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	RulesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconhawk_correlation_rules_loaded",
			Help: "Number of rules in the active rule set",
		},
	)

	RuleLoadErrors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconhawk_correlation_rule_load_errors",
			Help: "Number of rule documents rejected by the last load",
		},
	)
)

// Register attaches the rule metrics to hooks.
func Register(hooks *engine.Hooks) *engine.Hooks {
	return hooks.
		OnPostRule(func(_ context.Context, rule *rules.Rule, outcome engine.RuleOutcome) {
			RuleDuration.Observe(outcome.Duration.Seconds())
			switch {
			case outcome.Err != nil:
				RulesEvaluated.WithLabelValues("failed").Inc()
			case outcome.Result.Matched:
				RulesEvaluated.WithLabelValues("matched").Inc()
				CorrelationsCreated.WithLabelValues(rule.Meta.Risk).Add(float64(outcome.Result.CorrelationsCreated))
			default:
				RulesEvaluated.WithLabelValues("unmatched").Inc()
			}
		}).
		OnPreAggregate(func(_ context.Context, _ *rules.Rule, events []*models.Event) {
			EventsCollected.Add(float64(len(events)))
		}).
		OnPostAggregate(func(_ context.Context, _ *rules.Rule, groups engine.Groups) {
			GroupsAggregated.Add(float64(len(groups)))
		})
}

// RecordRun records one finished run.
func RecordRun(trigger string, err error, seconds float64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	RunsTotal.WithLabelValues(trigger, status).Inc()
	RunDuration.Observe(seconds)
}

// RecordLoad records the size of the active rule set and the rejected documents.
func RecordLoad(loaded, rejected int) {
	RulesLoaded.Set(float64(loaded))
	RuleLoadErrors.Set(float64(rejected))
}
