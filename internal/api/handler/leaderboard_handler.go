package handler

import (
	"ctf_scoring/internal/app/service"
	"ctf_scoring/internal/common"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type LeaderboardHandler struct {
	leaderboardService *service.LeaderboardService
}

func NewLeaderboardHandler(ls *service.LeaderboardService) *LeaderboardHandler {
	return &LeaderboardHandler{leaderboardService: ls}
}

func (h *LeaderboardHandler) RegisterRoutes(r chi.Router) {
	r.Get("/teams", h.teams) // GET /api/v1/leaderboard/teams?limit=50&offset=0
	r.Get("/users", h.users)
}

func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

func (h *LeaderboardHandler) teams(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	entries, err := h.leaderboardService.Teams(r.Context(), limit, offset)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, entries)
}

func (h *LeaderboardHandler) users(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	entries, err := h.leaderboardService.Users(r.Context(), limit, offset)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, entries)
}
