package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reconhawk/reconhawk-stack/common/logging"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/eventsource"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/repository"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/rules"
)

var (
	// ErrNoScanIDs is returned by Run when the caller supplies no scan ids.
	ErrNoScanIDs = errors.New("at least one scan id is required")
	// ErrInvalidScanID is returned by Run for blank scan ids.
	ErrInvalidScanID = errors.New("scan id must not be empty")
)

// PersistPolicy decides what happens when a correlation record cannot be stored.
type PersistPolicy string

const (
	// PersistSkipGroup logs the failure and leaves the group out of the rule's count.
	PersistSkipGroup PersistPolicy = "skip_group"
	// PersistFailRule treats the failure as a rule error; the rule is omitted from results.
	PersistFailRule PersistPolicy = "fail_rule"
)

// ParsePersistPolicy parses a policy name; the empty string selects skip_group.
func ParsePersistPolicy(s string) (PersistPolicy, error) {
	switch PersistPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PersistSkipGroup:
		return PersistSkipGroup, nil
	case PersistFailRule:
		return PersistFailRule, nil
	default:
		return "", fmt.Errorf("invalid persist policy %q (want skip_group or fail_rule)", s)
	}
}

// Executor runs rules against the event source and stores the findings.
// It is safe for concurrent use; every Run is independent.
type Executor struct {
	source   eventsource.Source
	store    repository.ResultStore
	registry *Registry
	enricher Enricher
	hooks    *Hooks
	workers  int
	policy   PersistPolicy
	logger   *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithRegistry replaces the strategy registry. The default registry only knows the
// built-in strategy with the built-in methods.
func WithRegistry(r *Registry) Option {
	return func(e *Executor) { e.registry = r }
}

// WithEnricher sets the enricher used by the default registry for rules with
// relational fields. It has no effect together with WithRegistry.
func WithEnricher(en Enricher) Option {
	return func(e *Executor) { e.enricher = en }
}

func WithHooks(h *Hooks) Option {
	return func(e *Executor) { e.hooks = h }
}

// WithWorkers sets how many rules are evaluated at once. Values below 2 keep the
// sequential loop.
func WithWorkers(n int) Option {
	return func(e *Executor) { e.workers = n }
}

func WithPersistPolicy(p PersistPolicy) Option {
	return func(e *Executor) { e.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an executor reading from source and writing to store.
func NewExecutor(source eventsource.Source, store repository.ResultStore, opts ...Option) *Executor {
	e := &Executor{
		source:  source,
		store:   store,
		workers: 1,
		policy:  PersistSkipGroup,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = NewRegistry(NewDefaultStrategy(NewMethods(), e.enricher))
	}
	return e
}

// Run evaluates rules over scanIDs and returns one Result per rule that could be
// evaluated. Rules that fail are logged and left out of the map. The only errors
// returned are bad scan ids and context cancellation; on cancellation the results
// gathered so far are returned with the context error.
func (e *Executor) Run(ctx context.Context, scanIDs []string, ruleset []*rules.Rule) (map[string]Result, error) {
	ids, err := normalizeScanIDs(scanIDs)
	if err != nil {
		return nil, err
	}

	results := make(map[string]Result, len(ruleset))
	var mu sync.Mutex

	seen := make(map[string]bool, len(ruleset))
	var runnable []*rules.Rule
	for _, rule := range ruleset {
		if rule == nil {
			continue
		}
		if !rule.Enabled {
			e.logger.InfoContext(ctx, "skipping disabled rule", logging.RuleID(rule.ID))
			continue
		}
		if seen[rule.ID] {
			e.logger.WarnContext(ctx, "skipping duplicate rule id", logging.RuleID(rule.ID))
			continue
		}
		seen[rule.ID] = true
		runnable = append(runnable, rule)
	}

	evaluate := func(rule *rules.Rule) {
		res, ok := e.runRule(ctx, rule, ids)
		if !ok {
			return
		}
		mu.Lock()
		results[rule.ID] = res
		mu.Unlock()
	}

	if e.workers <= 1 {
		for _, rule := range runnable {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			evaluate(rule)
		}
		return results, ctx.Err()
	}

	g := new(errgroup.Group)
	g.SetLimit(e.workers)
	for _, rule := range runnable {
		if ctx.Err() != nil {
			break
		}
		rule := rule
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			evaluate(rule)
			return nil
		})
	}
	_ = g.Wait()

	mu.Lock()
	defer mu.Unlock()
	return results, ctx.Err()
}

// runRule evaluates one rule with hooks and panic isolation. ok is false when the
// rule must be omitted from the results.
func (e *Executor) runRule(ctx context.Context, rule *rules.Rule, scanIDs []string) (res Result, ok bool) {
	start := time.Now()
	logger := e.logger.With(logging.RuleID(rule.ID))

	err := e.guard(ctx, logger, "pre_rule hook", func() error {
		e.hooks.firePreRule(ctx, rule)
		return nil
	})
	if err == nil {
		err = e.guard(ctx, logger, "rule evaluation", func() error {
			strategy, err := e.registry.Lookup(rule.Meta.Type)
			if err != nil {
				return err
			}
			res, err = strategy.Evaluate(ctx, &Request{
				Rule:    rule,
				ScanIDs: scanIDs,
				Source:  e.source,
				Store:   e.store,
				Hooks:   e.hooks,
				Policy:  e.policy,
				Logger:  logger,
			})
			return err
		})
	}

	elapsed := time.Since(start)
	outcome := RuleOutcome{Result: res, Err: err, Duration: elapsed}
	if hookErr := e.guard(ctx, logger, "post_rule hook", func() error {
		e.hooks.firePostRule(ctx, rule, outcome)
		return nil
	}); hookErr != nil && err == nil {
		err = hookErr
	}

	if err != nil {
		if ctx.Err() == nil {
			logger.ErrorContext(ctx, "rule evaluation failed, omitting from results",
				logging.Error(err))
		}
		return Result{}, false
	}

	logger.DebugContext(ctx, "rule evaluated",
		slog.Bool("matched", res.Matched),
		slog.Int("correlations_created", res.CorrelationsCreated),
		logging.Duration(elapsed))
	return res, true
}

// guard runs fn and turns a panic into an error, so a misbehaving strategy or hook
// only costs the rule it ran for.
func (e *Executor) guard(ctx context.Context, logger *slog.Logger, stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", stage, r)
			logger.ErrorContext(ctx, stage+" panicked", slog.String("stack", string(debug.Stack())))
		}
	}()
	return fn()
}

func normalizeScanIDs(scanIDs []string) ([]string, error) {
	if len(scanIDs) == 0 {
		return nil, ErrNoScanIDs
	}
	seen := make(map[string]bool, len(scanIDs))
	out := make([]string, 0, len(scanIDs))
	for _, id := range scanIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, ErrInvalidScanID
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}
