package http

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	authmw "github.com/mind-engage/mindengage-examprep/internal/auth/middleware"
	"github.com/mind-engage/mindengage-examprep/internal/engine"
	"github.com/mind-engage/mindengage-examprep/internal/logger"
	"github.com/mind-engage/mindengage-examprep/internal/rbac"
)

type Deps struct {
	Manager *engine.Manager
	Auth    *authmw.AuthService
	Log     *logger.Logger

	// DB enables /auth/login and the per-request entitlement refresh.
	DB                 *sql.DB
	AllowClaimFallback bool

	CORSOrigins    []string
	RequestLogging bool
}

func NewRouter(d Deps) chi.Router {
	sh := NewSessionHandlers(d.Manager, d.Log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	if d.RequestLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if len(d.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   d.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	if d.DB != nil {
		r.Post("/auth/login", authmw.LoginHandler(d.Auth, d.DB))
	}

	r.Group(func(pr chi.Router) {
		pr.Use(authmw.JWTMiddleware(d.Auth))
		if d.DB != nil {
			pr.Use(authmw.AttachEntitlementsFromDB(d.DB, d.AllowClaimFallback))
		}

		pr.With(rbac.Require("session:start")).Post("/sessions", sh.Start)
		pr.Route("/sessions/{sessionID}", func(sr chi.Router) {
			sr.With(rbac.Require("session:view")).Get("/", sh.Get)
			sr.With(rbac.Require("session:close")).Delete("/", sh.Close)

			sr.Group(func(ar chi.Router) {
				ar.Use(rbac.Require("session:answer"))
				ar.Post("/answers", sh.Answer)
				ar.Post("/review", sh.Review)
				ar.Post("/navigate", sh.Navigate)
				ar.Post("/activity", sh.Activity)
				ar.Post("/inactivity/ack", sh.AckInactivity)
			})
			sr.Group(func(sub chi.Router) {
				sub.Use(rbac.Require("session:submit"))
				sub.Post("/visibility", sh.Visibility)
				sub.Post("/submit", sh.Submit)
			})
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return r
}
