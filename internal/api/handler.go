package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/hitl"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/policy"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	validator *policy.Validator
	processor *pipeline.Processor
	cases     *hitl.Manager
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, validator *policy.Validator, processor *pipeline.Processor, cases *hitl.Manager, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		validator: validator,
		processor: processor,
		cases:     cases,
		version:   version,
	}
}

// Analyze handles POST /api/v1/analyze requests. The decision record is
// returned synchronously; provider failures come back as escalations, so
// a well-formed request never sees a 5xx from analysis itself.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tx := req.ToTransaction(tenantID)

	rec, err := h.processor.Process(ctx, tenantID, tx)
	if err != nil {
		if domain.IsValidation(err) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("analysis failed", "transaction_id", req.TransactionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "analysis failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// GetDecision retrieves a decision by transaction ID.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "txID")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	rec, err := h.repo.GetDecision(ctx, tenantID, txID)
	if err != nil {
		writeDomainError(w, err, "decision")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		writeDomainError(w, err, "transaction")
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// PendingCases returns the open review queue.
func (h *Handler) PendingCases(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	cases, err := h.cases.PendingCases(ctx, tenantID)
	if err != nil {
		writeDomainError(w, err, "cases")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cases": cases,
		"count": len(cases),
	})
}

// ListCases returns review cases, optionally filtered by ?status=.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	status := r.URL.Query().Get("status")

	cases, err := h.cases.ListCases(ctx, tenantID, status)
	if err != nil {
		writeDomainError(w, err, "cases")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cases": cases,
		"count": len(cases),
	})
}

// GetCase retrieves a review case by ID.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	caseID := chi.URLParam(r, "id")

	if caseID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "case id is required",
		})
		return
	}

	c, err := h.cases.GetCase(ctx, tenantID, caseID)
	if err != nil {
		writeDomainError(w, err, "case")
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// ReviewCase applies a reviewer verdict to a pending case.
func (h *Handler) ReviewCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	caseID := chi.URLParam(r, "id")

	if caseID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "case id is required",
		})
		return
	}

	var review domain.HITLReview
	if err := json.NewDecoder(r.Body).Decode(&review); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	c, err := h.cases.Review(ctx, tenantID, caseID, &review)
	if err != nil {
		writeDomainError(w, err, "case")
		return
	}

	slog.Info("case reviewed",
		"case_id", caseID,
		"tenant_id", tenantID,
		"reviewer_id", review.ReviewerID,
		"status", c.Status,
	)
	writeJSON(w, http.StatusOK, c)
}

// CaseStatistics summarizes case volume by status.
func (h *Handler) CaseStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	stats, err := h.cases.Statistics(ctx, tenantID)
	if err != nil {
		writeDomainError(w, err, "statistics")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// GetProfile retrieves a customer profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	customerID := chi.URLParam(r, "customerID")

	profile, err := h.repo.GetProfile(ctx, tenantID, customerID)
	if err != nil {
		writeDomainError(w, err, "profile")
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// PutProfile creates or replaces a customer profile.
func (h *Handler) PutProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	customerID := chi.URLParam(r, "customerID")

	var profile domain.CustomerProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	profile.CustomerID = customerID
	profile.TenantID = tenantID
	profile.UpdatedAt = time.Now().UTC()

	if profile.UsualAmountAvg <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "usualAmountAvg must be positive",
		})
		return
	}

	if err := h.repo.SaveProfile(ctx, tenantID, &profile); err != nil {
		writeDomainError(w, err, "profile")
		return
	}

	// Invalidate the cached copy so the next analysis sees the update.
	if h.cache != nil {
		_ = h.cache.Delete(ctx, tenantID, "profile:"+customerID)
	}

	writeJSON(w, http.StatusOK, &profile)
}

// ListPolicies returns the tenant's policies.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	policies, err := h.repo.ListPolicies(ctx, tenantID)
	if err != nil {
		writeDomainError(w, err, "policies")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": policies,
		"count":    len(policies),
		"source":   "database",
	})
}

// CreatePolicyRequest is the request body for creating a policy.
type CreatePolicyRequest struct {
	ID            string `json:"id"`
	Rule          string `json:"rule"`
	Version       string `json:"version,omitempty"`
	Applicability string `json:"applicability,omitempty"`
	Enabled       bool   `json:"enabled"`
}

// CreatePolicy creates a new policy and saves it to the database.
// After saving, call POST /policies/reload to hot-reload the validator.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Rule == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and rule are required",
		})
		return
	}

	version := req.Version
	if version == "" {
		version = "1.0.0"
	}

	cfg := &domain.PolicyConfig{
		ID:            req.ID,
		TenantID:      tenantID,
		Rule:          req.Rule,
		Version:       version,
		Applicability: req.Applicability,
		Enabled:       req.Enabled,
	}

	// Validate the applicability expression before persisting.
	if err := h.validator.ValidateConfig(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid applicability expression: " + err.Error(),
		})
		return
	}

	if err := h.repo.SavePolicy(ctx, tenantID, cfg); err != nil {
		slog.Error("failed to save policy", "id", cfg.ID, "error", err)
		writeDomainError(w, err, "policy")
		return
	}

	slog.Info("policy created", "id", cfg.ID, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"policy":  cfg,
		"message": "Policy created. Call POST /policies/reload to apply changes.",
	})
}

// ReloadPolicies reloads the tenant's policies from the database into the
// validator. This enables hot-reloading without server restart.
func (h *Handler) ReloadPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	policies, err := h.repo.ListPolicies(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list policies from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load policies from database",
		})
		return
	}

	if err := h.validator.ReloadPolicies(policies); err != nil {
		slog.Error("failed to reload policies into validator", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload policies: " + err.Error(),
		})
		return
	}

	slog.Info("policies reloaded from database", "count", len(policies))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "policies reloaded successfully",
		"count":   len(policies),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error, kind string) {
	switch {
	case domain.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case domain.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": kind + " not found"})
	case domain.IsConflict(err):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		slog.Error("request failed", "kind", kind, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}
