package api

import (
	"ctf_scoring/internal/api/handler"
	"ctf_scoring/internal/app/service"
	"ctf_scoring/internal/platform/metrics"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
)

type Services struct {
	Challenges    *service.ChallengeService
	Submissions   *service.SubmissionService
	Recalculation *service.RecalculationService
	Leaderboard   *service.LeaderboardService
}

func NewRouter(tokenAuth *jwtauth.JWTAuth, services Services, scoringMetrics *metrics.Scoring) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	// Verifies a bearer token when present and puts its claims in the context.
	r.Use(jwtauth.Verifier(tokenAuth))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	if scoringMetrics != nil {
		r.Method(http.MethodGet, "/metrics", scoringMetrics.Handler())
	}

	r.Route("/api/v1", func(v1 chi.Router) {
		challengeHandler := handler.NewChallengeHandler(services.Challenges, services.Submissions)
		v1.Route("/challenges", challengeHandler.RegisterRoutes)

		adminHandler := handler.NewAdminHandler(services.Recalculation)
		v1.Route("/admin", adminHandler.RegisterRoutes)

		leaderboardHandler := handler.NewLeaderboardHandler(services.Leaderboard)
		v1.Route("/leaderboard", leaderboardHandler.RegisterRoutes)
	})

	return r
}
