package handler

import (
	"ctf_scoring/internal/api/middleware"
	"ctf_scoring/internal/app/service"
	"ctf_scoring/internal/common"
	"ctf_scoring/internal/domain/model"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type AdminHandler struct {
	recalculationService *service.RecalculationService
}

func NewAdminHandler(rs *service.RecalculationService) *AdminHandler {
	return &AdminHandler{recalculationService: rs}
}

func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.Use(middleware.AdminOnly)
	r.Post("/recalculate", h.recalculate)                // POST /api/v1/admin/recalculate
	r.Post("/reprice/{challengeID}", h.repriceChallenge) // POST /api/v1/admin/reprice/12
}

// RecalculateRequest names exactly one target.
type RecalculateRequest struct {
	Team string `json:"team,omitempty"`
	User string `json:"user,omitempty"`
	All  bool   `json:"all,omitempty"`
}

func (req RecalculateRequest) targets() int {
	n := 0
	if req.Team != "" {
		n++
	}
	if req.User != "" {
		n++
	}
	if req.All {
		n++
	}
	return n
}

func (h *AdminHandler) recalculate(w http.ResponseWriter, r *http.Request) {
	var req RecalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}
	if req.targets() != 1 {
		common.RespondWithError(w, http.StatusBadRequest, "Exactly one of team, user or all is required")
		return
	}

	if req.All {
		count, err := h.recalculationService.ReconcileAll(r.Context())
		if err != nil {
			common.RespondWithDomainError(w, err)
			return
		}
		common.RespondWithJSON(w, http.StatusOK, map[string]int{"reconciled": count})
		return
	}

	owner := model.TeamOwner(req.Team)
	if req.User != "" {
		owner = model.UserOwner(req.User)
	}
	totals, err := h.recalculationService.Reconcile(r.Context(), owner)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, totals)
}

func (h *AdminHandler) repriceChallenge(w http.ResponseWriter, r *http.Request) {
	id, ok := challengeIDParam(r)
	if !ok {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid challenge id")
		return
	}
	changed, err := h.recalculationService.RepriceChallenge(r.Context(), id)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]int{"adjusted": changed})
}
