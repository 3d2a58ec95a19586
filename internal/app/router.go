package app

import (
	"database/sql"
	"net/http"
	"time"

	"tvcportal/internal/app/observability"
	"tvcportal/internal/auth"
	"tvcportal/internal/grading"
	"tvcportal/internal/ledger"
	"tvcportal/internal/material"
	"tvcportal/internal/report"
	"tvcportal/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(cfg Config, db *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	collector := observability.NewCollector(db)
	r.Use(collector.Middleware)

	authSvc := auth.NewService(db)
	authHandler := auth.NewHandler(authSvc)

	materialSvc := material.NewService(db, cfg.DefaultTimerMinutes)
	materialHandler := material.NewHandler(materialSvc)

	ledgerStore := ledger.NewSQLStore(db)

	gradingSvc := grading.NewService(materialSvc, ledgerStore)
	gradingHandler := grading.NewHandler(gradingSvc)

	sessionMgr := session.NewManager(materialSvc, gradingSvc, session.SystemClock())
	sessionHandler := session.NewHandler(sessionMgr)

	reportSvc := report.NewService(ledgerStore)
	reportHandler := report.NewHandler(reportSvc)

	loginLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))

		api.With(RateLimitMiddleware(loginLimiter)).Post("/auth/login", authHandler.Login)

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Get("/auth/me", authHandler.Me)
			secure.Post("/auth/logout", authHandler.Logout)

			secure.Get("/materials", materialHandler.List)
			secure.Get("/materials/{id}", materialHandler.Get)
			secure.Get("/materials/{id}/question-count", materialHandler.QuestionCount)

			secure.Post("/sessions", sessionHandler.Open)
			secure.Get("/sessions/{id}", sessionHandler.Get)
			secure.Put("/sessions/{id}/answers", sessionHandler.SetAnswer)
			secure.Post("/sessions/{id}/submit", sessionHandler.Submit)
			secure.Post("/sessions/{id}/reset", sessionHandler.Reset)
			secure.Post("/sessions/{id}/ack-warning", sessionHandler.AcknowledgeWarning)
			secure.Delete("/sessions/{id}", sessionHandler.Close)

			secure.Post("/verify", gradingHandler.Verify)

			secure.Group(func(staff chi.Router) {
				staff.Use(authHandler.RequireRoles(auth.RoleProfesor, auth.RoleAdmin))
				staff.Post("/materials", materialHandler.Create)
				staff.Put("/materials/{id}/answer-key", materialHandler.SaveAnswerKey)
				staff.Put("/materials/{id}/answer-key/{subject}", materialHandler.SaveSubjectKey)
				staff.Put("/materials/{id}/question-count", materialHandler.Resize)

				staff.Get("/reports/submissions", reportHandler.ListSubmissions)
				staff.Get("/reports/submissions/export", reportHandler.ExportSubmissions)
			})
		})
	})

	return r
}
