package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/reconhawk/reconhawk-stack/common/httputil"
	"github.com/reconhawk/reconhawk-stack/common/logging"
	"github.com/reconhawk/reconhawk-stack/common/messaging"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/repository"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/rules"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/service"
)

const maxListLimit = 500

type Handler struct {
	service *service.Service
	nats    messaging.Client
	logger  *slog.Logger
}

// NewHandler creates the HTTP handlers. natsClient may be nil when NATS is disabled.
func NewHandler(svc *service.Service, natsClient messaging.Client) *Handler {
	return &Handler{
		service: svc,
		nats:    natsClient,
		logger:  slog.Default().With(logging.Component("http-handler")),
	}
}

// HealthCheck handles GET /healthz
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	natsHealth := messaging.CheckClientHealth(h.nats)
	status := "healthy"
	if natsHealth.Enabled && !natsHealth.Connected {
		status = "degraded"
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"rules":  len(h.service.Rules()),
		"nats":   natsHealth,
	})
}

// RunCorrelations handles POST /api/v1/correlations/run
func (h *Handler) RunCorrelations(w http.ResponseWriter, r *http.Request) {
	var req service.RunRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.service.Run(r.Context(), req, service.TriggerHTTP)
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, service.ErrRuleNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
		return
	case err != nil && summary == nil:
		h.logger.ErrorContext(r.Context(), "correlation run failed", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "correlation run failed")
		return
	case err != nil:
		// Partial results: the run hit its timeout or the client went away.
		httputil.WriteJSON(w, http.StatusGatewayTimeout, summary)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

// ListCorrelations handles GET /api/v1/correlations
func (h *Handler) ListCorrelations(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.QueryInt(r, "limit", 50)
	if err != nil || limit < 1 || limit > maxListLimit {
		httputil.WriteError(w, http.StatusBadRequest, "limit must be between 1 and 500")
		return
	}
	offset, err := httputil.QueryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	filter := repository.ListFilter{
		ScanID: strings.TrimSpace(r.URL.Query().Get("scan_id")),
		RuleID: strings.TrimSpace(r.URL.Query().Get("rule_id")),
		Limit:  limit,
		Offset: offset,
	}
	recs, total, err := h.service.ListCorrelations(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list correlations", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list correlations")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"correlations": recs,
		"total":        total,
		"limit":        limit,
		"offset":       offset,
	})
}

// GetCorrelation handles GET /api/v1/correlations/{id}
func (h *Handler) GetCorrelation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	enrich := r.URL.Query().Get("enrich") == "true"

	detail, err := h.service.GetCorrelation(r.Context(), id, enrich)
	if errors.Is(err, repository.ErrCorrelationNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "correlation not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get correlation",
			logging.CorrelationID(id), logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to get correlation")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

type ruleSummary struct {
	ID          string     `json:"id"`
	Version     int        `json:"version,omitempty"`
	Meta        rules.Meta `json:"meta"`
	Enabled     bool       `json:"enabled"`
	Source      string     `json:"source"`
	Aggregation string     `json:"aggregation,omitempty"`
}

// ListRules handles GET /api/v1/rules
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	active := h.service.Rules()
	out := make([]ruleSummary, 0, len(active))
	for _, rule := range active {
		out = append(out, ruleSummary{
			ID:          rule.ID,
			Version:     rule.Version,
			Meta:        rule.Meta,
			Enabled:     rule.Enabled,
			Source:      rule.SourceName,
			Aggregation: rule.AggregationField(),
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  out,
		"errors": loadErrors(h.service.LoadErrors()),
	})
}

// ReloadRules handles POST /api/v1/rules/reload
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	loaded, rejected, err := h.service.ReloadRules()
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to reload rules", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"loaded": loaded,
		"errors": loadErrors(rejected),
	})
}

func loadErrors(errs []rules.LoadError) []map[string]string {
	out := make([]map[string]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, map[string]string{"source": e.Source, "message": e.Message})
	}
	return out
}
