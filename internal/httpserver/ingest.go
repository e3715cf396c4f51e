package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/wisbric/siemgate/internal/apierr"
	"github.com/wisbric/siemgate/internal/eventbus"
	"github.com/wisbric/siemgate/internal/idempotency"
	"github.com/wisbric/siemgate/internal/ingest"
	"github.com/wisbric/siemgate/internal/lock"
	"github.com/wisbric/siemgate/internal/normalize"
)

// IngestHandler wraps the ingestion router with normalization and
// idempotency handling for the batch events endpoint (spec §4.G, §4.H).
// bus may be nil (no rule engine running in this process); when set, each
// admitted event is also fanned out to it for streaming rule evaluation
// (spec §2 flow summary: "fan-out to N (event bus) for L").
type IngestHandler struct {
	router      *ingest.Router
	idempotency idempotency.Store
	locker      lock.Backend
	bus         eventbus.Producer
	logger      *slog.Logger
}

func NewIngestHandler(router *ingest.Router, idem idempotency.Store, locker lock.Backend, bus eventbus.Producer, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{router: router, idempotency: idem, locker: locker, bus: bus, logger: logger}
}

type ingestBatchRequest struct {
	Events []map[string]any `json:"events"`
}

type ingestEventResult struct {
	EventID string `json:"event_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ingestBatchResponse struct {
	Accepted int                  `json:"accepted"`
	Rejected int                  `json:"rejected"`
	Results  []ingestEventResult  `json:"results"`
}

// HandleBatch accepts a batch of raw events for one tenant, normalizing
// and admitting each independently so that a single malformed event
// doesn't fail the whole batch (spec §4.H).
func (h *IngestHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	identity := FromContext(r.Context())
	if identity == nil {
		RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	body, err := readLimitedBody(r, int64(idempotency.MaxBodyBytes))
	if err != nil {
		respondAPIErr(w, h.logger, err)
		return
	}

	if key := r.Header.Get("Idempotency-Key"); key != "" {
		outcome, rec, lease, err := idempotency.Check(r.Context(), h.idempotency, h.locker, "POST /api/v1/events", key, body)
		if err != nil {
			respondAPIErr(w, h.logger, err)
			return
		}
		switch outcome {
		case idempotency.Replay:
			w.Header().Set("Idempotency-Replayed", "true")
			Respond(w, rec.LastStatus, map[string]string{"status": rec.LastReason})
			return
		case idempotency.Conflict:
			RespondError(w, http.StatusConflict, string(apierr.CodeConflict), "idempotency key reused with a different request body")
			return
		}

		status, reason := h.handleBatch(w, r, identity.TenantID, body)
		if recErr := idempotency.RecordOutcome(r.Context(), h.idempotency, lease, "POST /api/v1/events", key, body, status, reason); recErr != nil {
			h.logger.Error("failed to record idempotency outcome", "error", recErr)
		}
		return
	}

	h.handleBatch(w, r, identity.TenantID, body)
}

// handleBatch normalizes and admits every event, writes the response, and
// returns the status/reason pair idempotency needs to replay later.
func (h *IngestHandler) handleBatch(w http.ResponseWriter, r *http.Request, tenantID string, body []byte) (int, string) {
	var req ingestBatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		RespondError(w, http.StatusBadRequest, string(apierr.CodeValidation), "invalid JSON body")
		return http.StatusBadRequest, "invalid_json"
	}

	now := time.Now()
	resp := ingestBatchResponse{Results: make([]ingestEventResult, 0, len(req.Events))}

	for _, raw := range req.Events {
		raw["tenant_id"] = tenantID
		ev, err := normalize.Normalize(raw, now)
		if err != nil {
			resp.Rejected++
			resp.Results = append(resp.Results, ingestEventResult{Error: err.Error()})
			continue
		}

		if err := h.router.Admit(r.Context(), tenantID, ev); err != nil {
			resp.Rejected++
			resp.Results = append(resp.Results, ingestEventResult{EventID: ev.EventID, Error: err.Error()})
			continue
		}

		if h.bus != nil {
			if payload, err := json.Marshal(ev); err == nil {
				if err := h.bus.Publish(r.Context(), tenantID, payload); err != nil {
					h.logger.Error("failed to publish event to event bus", "tenant_id", tenantID, "error", err)
				}
			}
		}

		resp.Accepted++
		resp.Results = append(resp.Results, ingestEventResult{EventID: ev.EventID})
	}

	status := http.StatusAccepted
	reason := "accepted"
	if resp.Accepted == 0 && len(req.Events) > 0 {
		status = http.StatusBadRequest
		reason = "all_rejected"
	}
	Respond(w, status, resp)
	return status, reason
}
