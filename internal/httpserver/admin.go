package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/wisbric/siemgate/internal/apierr"
	"github.com/wisbric/siemgate/internal/apikeyauth"
	"github.com/wisbric/siemgate/internal/controlplane"
	"github.com/wisbric/siemgate/internal/rules"
)

// AdminHandler exposes the tenant-limits, API-key, and rule management
// surface, all gated behind RequireRole(apikeyauth.RoleAdmin).
type AdminHandler struct {
	limits      *controlplane.PostgresStore
	limitsReg   *controlplane.Registry
	keys        apikeyauth.Store
	ruleStore   *rules.PostgresStore
	ruleReg     *rules.Registry
	logger      *slog.Logger
}

func NewAdminHandler(limits *controlplane.PostgresStore, limitsReg *controlplane.Registry, keys apikeyauth.Store, ruleStore *rules.PostgresStore, ruleReg *rules.Registry, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{limits: limits, limitsReg: limitsReg, keys: keys, ruleStore: ruleStore, ruleReg: ruleReg, logger: logger}
}

// --- Tenant limits ---

type tenantLimitsRequest struct {
	TenantID      string `json:"tenant_id" validate:"required,max=64"`
	EPSSoft       uint32 `json:"eps_soft"`
	EPSHard       uint32 `json:"eps_hard" validate:"required"`
	Burst         uint32 `json:"burst"`
	RetentionDays uint16 `json:"retention_days" validate:"required,min=1,max=3650"`
	ExportDailyMB uint32 `json:"export_daily_mb"`
	Compression   string `json:"compression" validate:"omitempty,oneof=lz4 zstd none"`
}

func (req tenantLimitsRequest) toLimits() controlplane.Limits {
	return controlplane.Limits{
		TenantID:      req.TenantID,
		EPSSoft:       req.EPSSoft,
		EPSHard:       req.EPSHard,
		Burst:         req.Burst,
		RetentionDays: req.RetentionDays,
		ExportDailyMB: req.ExportDailyMB,
		Compression:   req.Compression,
	}
}

// HandleCreateTenantLimits creates a brand-new tenant's limits row and
// reloads the in-memory registry so the router sees it immediately.
func (h *AdminHandler) HandleCreateTenantLimits(w http.ResponseWriter, r *http.Request) {
	var req tenantLimitsRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	limits := req.toLimits()
	if err := limits.Validate(); err != nil {
		RespondError(w, http.StatusBadRequest, string(apierr.CodeValidation), err.Error())
		return
	}

	if err := h.limits.Insert(r.Context(), limits); err != nil {
		respondAPIErr(w, h.logger, apierr.Wrap(apierr.CodeDatabaseError, "creating tenant limits", err))
		return
	}
	if err := h.limitsReg.Reload(r.Context()); err != nil {
		h.logger.Error("failed to reload tenant limits registry", "error", err)
	}
	Respond(w, http.StatusCreated, limits)
}

type tenantLimitsUpdateRequest struct {
	tenantLimitsRequest
	ExpectedUpdatedAt time.Time `json:"expected_updated_at" validate:"required"`
}

// HandleUpdateTenantLimits updates an existing tenant's limits using
// optimistic concurrency against expected_updated_at.
func (h *AdminHandler) HandleUpdateTenantLimits(w http.ResponseWriter, r *http.Request) {
	var req tenantLimitsUpdateRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	limits := req.toLimits()
	if err := limits.Validate(); err != nil {
		RespondError(w, http.StatusBadRequest, string(apierr.CodeValidation), err.Error())
		return
	}

	if err := h.limits.Upsert(r.Context(), limits, req.ExpectedUpdatedAt); err != nil {
		RespondError(w, http.StatusConflict, string(apierr.CodeConflict), "tenant limits were modified concurrently; refetch and retry")
		return
	}
	if err := h.limitsReg.Reload(r.Context()); err != nil {
		h.logger.Error("failed to reload tenant limits registry", "error", err)
	}
	Respond(w, http.StatusOK, limits)
}

// --- API keys ---

type issueAPIKeyRequest struct {
	TenantID string `json:"tenant_id" validate:"required,max=64"`
	Role     string `json:"role" validate:"required,oneof=admin readonly"`
}

// HandleIssueAPIKey mints a new API key for a tenant and returns the raw
// key exactly once; only its hash is ever persisted (spec §3 API Key).
func (h *AdminHandler) HandleIssueAPIKey(w http.ResponseWriter, r *http.Request) {
	var req issueAPIKeyRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	issued, err := apikeyauth.Issue(req.TenantID, req.Role)
	if err != nil {
		RespondError(w, http.StatusBadRequest, string(apierr.CodeValidation), err.Error())
		return
	}

	if err := h.keys.Insert(r.Context(), issued.Record); err != nil {
		respondAPIErr(w, h.logger, apierr.Wrap(apierr.CodeDatabaseError, "persisting issued API key", err))
		return
	}
	Respond(w, http.StatusCreated, issued)
}

// HandleRevokeAPIKey revokes a previously issued API key by key_id.
func (h *AdminHandler) HandleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID := r.URL.Query().Get("key_id")
	if keyID == "" {
		RespondError(w, http.StatusBadRequest, string(apierr.CodeValidation), "key_id query parameter is required")
		return
	}
	if err := h.keys.Revoke(r.Context(), keyID); err != nil {
		respondAPIErr(w, h.logger, apierr.Wrap(apierr.CodeDatabaseError, "revoking API key", err))
		return
	}
	Respond(w, http.StatusOK, map[string]string{"key_id": keyID, "status": "revoked"})
}

// --- Rules ---

type ruleRequest struct {
	RuleID   string          `json:"rule_id" validate:"required"`
	RuleName string          `json:"rule_name" validate:"required"`
	TenantID string          `json:"tenant_id" validate:"required,max=64"`
	Severity string          `json:"severity" validate:"required"`
	Version  int             `json:"version"`
	Active   bool            `json:"active"`
	Priority int             `json:"priority"`
	Plan     json.RawMessage `json:"plan" validate:"required"`
}

// HandleUpsertRule creates or replaces a rule and reloads the rule
// registry so the engine picks it up on its next evaluation (spec §4.L).
func (h *AdminHandler) HandleUpsertRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	plan, err := rules.DecodePlan(req.Plan)
	if err != nil {
		RespondError(w, http.StatusBadRequest, string(apierr.CodeValidation), err.Error())
		return
	}

	rule := rules.Rule{
		RuleID:   req.RuleID,
		RuleName: req.RuleName,
		TenantID: req.TenantID,
		Severity: req.Severity,
		Version:  req.Version,
		Active:   req.Active,
		Priority: req.Priority,
		Plan:     plan,
	}

	if err := h.ruleStore.Upsert(r.Context(), rule); err != nil {
		respondAPIErr(w, h.logger, apierr.Wrap(apierr.CodeDatabaseError, "persisting rule", err))
		return
	}
	if err := h.ruleReg.Reload(r.Context()); err != nil {
		h.logger.Error("failed to reload rule registry", "error", err)
	}
	Respond(w, http.StatusOK, rule)
}

// decodeJSON reads dst from the request body and struct-tag validates it
// (go-playground/validator, the same library the admin sub-router's
// request DTOs carry their "required"/"oneof"/range constraints with).
func (h *AdminHandler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, 1<<20)
	if err != nil {
		respondAPIErr(w, h.logger, err)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		RespondError(w, http.StatusBadRequest, string(apierr.CodeValidation), "invalid JSON body")
		return false
	}
	if errs := Validate(dst); len(errs) > 0 {
		RespondValidationError(w, errs)
		return false
	}
	return true
}
