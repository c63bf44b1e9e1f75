package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/reconhawk/reconhawk-stack/common/logging"
	"github.com/reconhawk/reconhawk-stack/common/messaging"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/service"
)

// Runner is the part of the service the handler needs.
type Runner interface {
	Run(ctx context.Context, req service.RunRequest, trigger string) (*service.RunSummary, error)
}

// Handler processes correlation run jobs received over NATS.
type Handler struct {
	client messaging.Client
	runner Runner
	subs   []messaging.Subscription
	logger *slog.Logger
}

// NewHandler creates a new NATS handler for correlation jobs.
func NewHandler(client messaging.Client, runner Runner) *Handler {
	return &Handler{
		client: client,
		runner: runner,
		logger: slog.Default().With(logging.Component("nats-handler")),
	}
}

// Start subscribes to the job subject in the workers queue group.
func (h *Handler) Start(ctx context.Context) error {
	sub, err := h.client.QueueSubscribe(
		messaging.SubjectCorrelationJobsRun,
		messaging.QueueCorrelationWorkers,
		h.handleRunJob,
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to correlation jobs: %w", err)
	}
	h.subs = append(h.subs, sub)

	h.logger.Info("NATS handler started",
		slog.String("subject", messaging.SubjectCorrelationJobsRun),
		slog.String("queue_group", messaging.QueueCorrelationWorkers))
	return nil
}

// Stop unsubscribes from all subjects.
func (h *Handler) Stop() error {
	h.logger.Info("Stopping NATS handler")
	for _, sub := range h.subs {
		if err := sub.Unsubscribe(); err != nil {
			h.logger.Warn("Failed to unsubscribe", logging.Error(err))
		}
	}
	h.subs = nil
	return nil
}

func (h *Handler) handleRunJob(ctx context.Context, msg *messaging.Message) error {
	var req RunJobRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		h.logger.Error("Failed to unmarshal correlation job", logging.Error(err))
		return h.reply(ctx, msg.Reply, RunJobResponse{Error: "invalid job payload: " + err.Error()})
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	logger := h.logger.With(logging.JobID(req.JobID))
	logger.Debug("Processing correlation job", logging.ScanIDs(req.ScanIDs))

	summary, err := h.runner.Run(ctx, service.RunRequest{ScanIDs: req.ScanIDs, RuleIDs: req.RuleIDs}, service.TriggerNATS)
	resp := RunJobResponse{JobID: req.JobID, Summary: summary}
	if err != nil {
		resp.Error = err.Error()
		logger.Error("Correlation job failed", logging.Error(err))
	} else {
		resp.Success = true
	}

	if err := h.reply(ctx, msg.Reply, resp); err != nil {
		return err
	}
	return h.client.PublishJSON(ctx, messaging.CorrelationRunResultSubject(req.JobID), resp)
}

func (h *Handler) reply(ctx context.Context, subject string, resp RunJobResponse) error {
	if subject == "" {
		return nil
	}
	if err := h.client.PublishJSON(ctx, subject, resp); err != nil {
		return fmt.Errorf("failed to reply to correlation job: %w", err)
	}
	return nil
}
