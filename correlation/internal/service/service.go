// Package service owns the active rule set and runs correlations for the HTTP and
// NATS surfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reconhawk/reconhawk-stack/common/logging"
	"github.com/reconhawk/reconhawk-stack/common/messaging"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/engine"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/enricher"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/eventsource"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/metrics"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/models"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/repository"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/rollup"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/rules"
)

var (
	// ErrInvalidRequest wraps caller mistakes such as an empty scan id list.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRuleNotFound is returned when a run names a rule id that is not loaded.
	ErrRuleNotFound = errors.New("rule not found")
)

// Triggers label runs in logs and metrics.
const (
	TriggerHTTP = "http"
	TriggerNATS = "nats"
	TriggerCLI  = "cli"
)

// RunRequest asks for a correlation run. An empty RuleIDs runs every loaded rule.
type RunRequest struct {
	ScanIDs []string `json:"scan_ids"`
	RuleIDs []string `json:"rule_ids,omitempty"`
}

// RunSummary is the outcome of one run.
type RunSummary struct {
	RunID               string                   `json:"run_id"`
	ScanIDs             []string                 `json:"scan_ids"`
	StartedAt           time.Time                `json:"started_at"`
	DurationMS          int64                    `json:"duration_ms"`
	RulesEvaluated      int                      `json:"rules_evaluated"`
	RulesMatched        int                      `json:"rules_matched"`
	RulesFailed         []string                 `json:"rules_failed,omitempty"`
	CorrelationsCreated int                      `json:"correlations_created"`
	ByRisk              map[string]int           `json:"by_risk"`
	Results             map[string]engine.Result `json:"results"`
	Error               string                   `json:"error,omitempty"`
}

// CorrelationDetail is a stored correlation plus, on request, its enriched events.
type CorrelationDetail struct {
	*models.CorrelationRecord
	Events []*models.Event `json:"events,omitempty"`
}

// Options are the optional collaborators of a Service.
type Options struct {
	RulesDir   string
	RunTimeout time.Duration
	Enricher   *enricher.Enricher
	Publisher  messaging.Publisher
	Logger     *slog.Logger
}

// Service runs correlations and serves stored results.
type Service struct {
	executor   *engine.Executor
	repo       repository.Repository
	source     eventsource.ProvenanceSource
	loader     *rules.Loader
	enricher   *enricher.Enricher
	publisher  messaging.Publisher
	rollup     *rollup.Aggregator
	rulesDir   string
	runTimeout time.Duration
	logger     *slog.Logger

	reloadMu   sync.Mutex
	mu         sync.RWMutex
	rules      []*rules.Rule
	loadErrors []rules.LoadError
}

func NewService(executor *engine.Executor, repo repository.Repository, source eventsource.ProvenanceSource, loader *rules.Loader, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With(logging.Component("correlation-service"))
	}
	timeout := opts.RunTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	en := opts.Enricher
	if en == nil && source != nil {
		en = enricher.New(source)
	}
	return &Service{
		executor:   executor,
		repo:       repo,
		source:     source,
		loader:     loader,
		enricher:   en,
		publisher:  opts.Publisher,
		rollup:     rollup.New(),
		rulesDir:   opts.RulesDir,
		runTimeout: timeout,
		logger:     logger,
	}
}

// ReloadRules loads the rules directory and swaps the active set. Rejected documents
// are logged and reported; they do not fail the reload.
func (s *Service) ReloadRules() (int, []rules.LoadError, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	loaded, err := s.loader.LoadDir(s.rulesDir)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to load rules: %w", err)
	}
	loadErrors := s.loader.Errors()
	s.SetRules(loaded, loadErrors)

	for _, le := range loadErrors {
		s.logger.Warn("rule rejected", logging.Source(le.Source), slog.String("reason", le.Message))
	}
	s.logger.Info("rules loaded", slog.Int("rules", len(loaded)), slog.Int("rejected", len(loadErrors)))
	return len(loaded), loadErrors, nil
}

// SetRules replaces the active rule set.
func (s *Service) SetRules(ruleset []*rules.Rule, loadErrors []rules.LoadError) {
	s.mu.Lock()
	s.rules = ruleset
	s.loadErrors = loadErrors
	s.mu.Unlock()
	metrics.RecordLoad(len(ruleset), len(loadErrors))
}

// Rules returns the active rule set.
func (s *Service) Rules() []*rules.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*rules.Rule(nil), s.rules...)
}

// LoadErrors returns the documents rejected by the last load.
func (s *Service) LoadErrors() []rules.LoadError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]rules.LoadError(nil), s.loadErrors...)
}

func (s *Service) selectRules(ids []string) ([]*rules.Rule, error) {
	active := s.Rules()
	if len(ids) == 0 {
		return active, nil
	}
	byID := make(map[string]*rules.Rule, len(active))
	for _, r := range active {
		byID[r.ID] = r
	}
	selected := make([]*rules.Rule, 0, len(ids))
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrRuleNotFound, id)
		}
		selected = append(selected, r)
	}
	return selected, nil
}

// Run evaluates the selected rules over req.ScanIDs. A timed-out or cancelled run
// still returns the summary of the rules that finished, together with the error.
func (s *Service) Run(ctx context.Context, req RunRequest, trigger string) (*RunSummary, error) {
	selected, err := s.selectRules(req.RuleIDs)
	if err != nil {
		return nil, err
	}

	runID := newRunID()
	logger := s.logger.With(logging.JobID(runID), logging.ScanIDs(req.ScanIDs), slog.String("trigger", trigger))

	ctx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	start := time.Now()
	results, runErr := s.executor.Run(ctx, req.ScanIDs, selected)
	elapsed := time.Since(start)

	if errors.Is(runErr, engine.ErrNoScanIDs) || errors.Is(runErr, engine.ErrInvalidScanID) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, runErr)
	}
	metrics.RecordRun(trigger, runErr, elapsed.Seconds())

	summary := s.summarize(runID, req.ScanIDs, start, elapsed, selected, results)
	if runErr != nil {
		summary.Error = runErr.Error()
		logger.Warn("correlation run interrupted", logging.Error(runErr),
			slog.Int("rules_evaluated", summary.RulesEvaluated))
	} else {
		logger.Info("correlation run completed",
			slog.Int("rules_evaluated", summary.RulesEvaluated),
			slog.Int("rules_matched", summary.RulesMatched),
			slog.Int("correlations_created", summary.CorrelationsCreated),
			logging.Duration(elapsed))
	}

	s.notify(summary)
	return summary, runErr
}

func (s *Service) summarize(runID string, scanIDs []string, start time.Time, elapsed time.Duration, selected []*rules.Rule, results map[string]engine.Result) *RunSummary {
	values := rollup.Values(results)

	summary := &RunSummary{
		RunID:      runID,
		ScanIDs:    scanIDs,
		StartedAt:  start.UTC(),
		DurationMS: elapsed.Milliseconds(),
		Results:    results,
		ByRisk:     map[string]int{},
	}
	if v, err := s.rollup.Aggregate(values, rollup.MethodCount); err == nil {
		summary.RulesEvaluated = v.(int)
	}
	if v, err := s.rollup.Aggregate(values, rollup.MethodMatched); err == nil {
		summary.RulesMatched = v.(int)
	}
	if v, err := s.rollup.Aggregate(values, rollup.MethodByRisk); err == nil {
		summary.ByRisk = v.(map[string]int)
	}
	for _, r := range values {
		summary.CorrelationsCreated += r.CorrelationsCreated
	}
	for _, r := range selected {
		if _, ok := results[r.ID]; !ok && r.Enabled {
			summary.RulesFailed = append(summary.RulesFailed, r.ID)
		}
	}
	sort.Strings(summary.RulesFailed)
	return summary
}

// notify broadcasts the summary. Delivery failures are logged only.
func (s *Service) notify(summary *RunSummary) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.publisher.PublishJSON(ctx, messaging.SubjectCorrelationResultsRun, summary); err != nil {
		s.logger.Warn("failed to publish run summary", logging.JobID(summary.RunID), logging.Error(err))
	}
}

// GetCorrelation returns a stored correlation. With enrich set, the contributing
// events are loaded and their sources, entities and children attached.
func (s *Service) GetCorrelation(ctx context.Context, id string, enrich bool) (*CorrelationDetail, error) {
	rec, err := s.repo.GetCorrelation(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &CorrelationDetail{CorrelationRecord: rec}
	if !enrich || s.source == nil || len(rec.EventIDs) == 0 {
		return detail, nil
	}

	events, err := s.source.GetEventsByID(ctx, rec.EventIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load correlation events: %w", err)
	}
	detail.Events, err = s.enricher.EnrichAll(ctx, events)
	if err != nil {
		return nil, fmt.Errorf("failed to enrich correlation events: %w", err)
	}
	return detail, nil
}

func (s *Service) ListCorrelations(ctx context.Context, filter repository.ListFilter) ([]*models.CorrelationRecord, int, error) {
	return s.repo.ListCorrelations(ctx, filter)
}

func newRunID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
