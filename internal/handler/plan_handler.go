package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/service"
)

// PlanHandler holds the dependencies for plan-related HTTP handlers.
type PlanHandler struct {
	Service *service.CampaignService
	Logger  zerolog.Logger
}

// Routes mounts all plan and contact endpoints on the router.
func (h *PlanHandler) Routes(r chi.Router) {
	r.Post("/plans", h.CreatePlan)
	r.Get("/plans", h.ListPlans)
	r.Post("/plans/preview", h.Preview)
	r.Get("/plans/{id}", h.GetPlan)
	r.Put("/plans/{id}", h.UpdatePlan)
	r.Delete("/plans/{id}", h.DeletePlan)
	r.Post("/plans/{id}/cancel", h.CancelRecipients)
	r.Post("/plans/{id}/send-now", h.SendNow)
	r.Get("/plans/{id}/audit", h.ListAudit)
	r.Post("/contacts/{id}/opt-out", h.OptOut)
	r.Delete("/contacts/{id}", h.DeleteContact)
}

// CreatePlan handles creating a new scheduled plan.
func (h *PlanHandler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var payload service.CreatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.Service.CreatePlan(payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// ListPlans returns a paginated list of plans; with ?consolidated=true the
// plans are grouped by identical content and start time.
func (h *PlanHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)
	status := r.URL.Query().Get("status")

	plans, pagination, err := h.Service.ListPlans(page, pageSize, status)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if r.URL.Query().Get("consolidated") == "true" {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"data":       service.Consolidate(plans),
			"pagination": pagination,
		})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       plans,
		"pagination": pagination,
	})
}

// GetPlan returns a single plan with its per-status recipient counts.
func (h *PlanHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	details, err := h.Service.GetPlanDetails(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, details)
}

// UpdatePlan replaces the plan's template, pacing and start time. Pending
// recipients are replanned; sent and failed ones keep their status.
func (h *PlanHandler) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Template       model.MessageTemplate `json:"template"`
		Pacing         model.PacingPolicy    `json:"pacing"`
		ScheduledStart time.Time             `json:"scheduled_start"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	plan, err := h.Service.Edit(chi.URLParam(r, "id"), payload.Template, payload.Pacing, payload.ScheduledStart)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, plan)
}

// DeletePlan cancels the whole plan.
func (h *PlanHandler) DeletePlan(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Cancel(chi.URLParam(r, "id"), nil); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelRecipients removes the given handles from the plan; the rest of the
// plan keeps its schedule.
func (h *PlanHandler) CancelRecipients(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Handles []string `json:"handles"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.Service.Cancel(chi.URLParam(r, "id"), payload.Handles); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendNow queues immediate dispatch for a subset of the plan's recipients,
// or all pending ones when no handles are given.
func (h *PlanHandler) SendNow(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Handles []string `json:"handles"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.Service.SendNow(chi.URLParam(r, "id"), payload.Handles); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Preview renders a template body for one contact without sending.
func (h *PlanHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ContactID int    `json:"contact_id"`
		BodyText  string `json:"body_text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	rendered, err := h.Service.Preview(payload.ContactID, payload.BodyText)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"rendered": rendered})
}

// ListAudit returns the plan's cancellation audit trail.
func (h *PlanHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.Audit.ListByPlan(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": entries})
}

// OptOut marks the contact as opted out and cascades the cancellation to
// every plan still carrying them.
func (h *PlanHandler) OptOut(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid contact id", http.StatusBadRequest)
		return
	}

	touched, err := h.Service.HandleOptOut(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"plans_updated": touched})
}

// DeleteContact removes the contact from the directory and cascades the
// cancellation like an opt-out, with its own audit reason.
func (h *PlanHandler) DeleteContact(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid contact id", http.StatusBadRequest)
		return
	}

	touched, err := h.Service.HandleContactDeleted(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"plans_updated": touched})
}

func (h *PlanHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *PlanHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var cfgErr *appErrors.ConfigurationError
	var resErr *appErrors.RecipientResolutionError
	var planNotFound *appErrors.ErrPlanNotFound
	var contactNotFound *appErrors.ErrContactNotFound
	var conflict *appErrors.PersistenceConflictError
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &resErr):
		status = http.StatusBadRequest
	case errors.As(err, &planNotFound), errors.As(err, &contactNotFound):
		status = http.StatusNotFound
	case errors.As(err, &conflict):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.Logger.Error().Err(err).Msg("request failed")
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if s := r.URL.Query().Get(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
