package handler

import (
	"ctf_scoring/internal/api/middleware"
	"ctf_scoring/internal/app/service"
	"ctf_scoring/internal/common"
	"ctf_scoring/internal/domain/model"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type ChallengeHandler struct {
	challengeService  *service.ChallengeService
	submissionService *service.SubmissionService
}

func NewChallengeHandler(cs *service.ChallengeService, ss *service.SubmissionService) *ChallengeHandler {
	return &ChallengeHandler{challengeService: cs, submissionService: ss}
}

func (h *ChallengeHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.Get("/", h.listChallenges)            // GET /api/v1/challenges
	r.Get("/{challengeID}", h.getChallenge) // GET /api/v1/challenges/12
	r.Post("/submit_flag", h.submitFlag)    // POST /api/v1/challenges/submit_flag
	r.Post("/check_flag", h.checkFlag)      // POST /api/v1/challenges/check_flag

	r.Group(func(adminRouter chi.Router) {
		adminRouter.Use(middleware.AdminOnly)
		adminRouter.Post("/", h.createChallenge)
		adminRouter.Get("/{challengeID}/self_check", h.selfCheck)
	})
}

func requesterFromRequest(r *http.Request) (service.Requester, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		return service.Requester{}, false
	}
	return service.Requester{UserID: userID, TeamID: middleware.GetTeamIDFromContext(r.Context())}, true
}

func challengeIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "challengeID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (h *ChallengeHandler) listChallenges(w http.ResponseWriter, r *http.Request) {
	requester, ok := requesterFromRequest(r)
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing user context")
		return
	}
	views, err := h.challengeService.ListForRequester(r.Context(), requester)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, views)
}

func (h *ChallengeHandler) getChallenge(w http.ResponseWriter, r *http.Request) {
	id, ok := challengeIDParam(r)
	if !ok {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid challenge id")
		return
	}
	role, _ := middleware.GetUserRoleFromContext(r.Context())

	ch, err := h.challengeService.GetChallenge(r.Context(), id, role == model.RoleAdmin)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, ch)
}

func (h *ChallengeHandler) createChallenge(w http.ResponseWriter, r *http.Request) {
	var req service.CreateChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	resp, err := h.challengeService.CreateChallenge(r.Context(), req)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, resp)
}

func (h *ChallengeHandler) selfCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := challengeIDParam(r)
	if !ok {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid challenge id")
		return
	}
	issues, err := h.challengeService.RunSelfCheck(r.Context(), id)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"issues": issues})
}

func (h *ChallengeHandler) decodeSubmission(w http.ResponseWriter, r *http.Request) (service.Requester, service.SubmitFlagRequest, bool) {
	requester, ok := requesterFromRequest(r)
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing user context")
		return service.Requester{}, service.SubmitFlagRequest{}, false
	}
	var req service.SubmitFlagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithDomainError(w, common.Errorf("invalid request body: %w", common.ErrMalformedSubmission))
		return service.Requester{}, service.SubmitFlagRequest{}, false
	}
	return requester, req, true
}

func (h *ChallengeHandler) submitFlag(w http.ResponseWriter, r *http.Request) {
	requester, req, ok := h.decodeSubmission(w, r)
	if !ok {
		return
	}
	res, err := h.submissionService.SubmitFlag(r.Context(), requester, req)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, res)
}

func (h *ChallengeHandler) checkFlag(w http.ResponseWriter, r *http.Request) {
	requester, req, ok := h.decodeSubmission(w, r)
	if !ok {
		return
	}
	res, err := h.submissionService.CheckFlag(r.Context(), requester, req)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, res)
}
