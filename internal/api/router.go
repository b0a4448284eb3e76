package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/voicebrief/backend/internal/api/handlers"
	"github.com/voicebrief/backend/internal/api/middleware"
	"github.com/voicebrief/backend/internal/auth"
	"github.com/voicebrief/backend/internal/blob"
	"github.com/voicebrief/backend/internal/config"
	"github.com/voicebrief/backend/internal/db"
	"github.com/voicebrief/backend/internal/pipeline"
)

func NewRouter(database *db.Database, jwtService *auth.JWTService, cfg *config.Config,
	blobs blob.Store, coordinator *pipeline.Coordinator) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(middleware.CORSHandler(cfg.CORSOrigins)))

	// Handlers
	authHandler := handlers.NewAuthHandler(database, jwtService)
	summaryHandler := handlers.NewSummaryHandler(database, blobs)
	uploadHandler := handlers.NewUploadHandler(blobs, coordinator, cfg.MaxUploadBytes)
	jobHandler := handlers.NewJobHandler(database)

	r.Route("/api", func(r chi.Router) {
		// Public
		r.Post("/auth/login", authHandler.Login)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})
		// Summary polling is public: the fileName is the shared secret
		// clients were handed at upload time.
		r.Get("/summary", summaryHandler.Get)

		// Protected
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(jwtService))

			r.Get("/auth/me", authHandler.Me)

			r.Post("/upload", uploadHandler.Upload)

			r.Get("/jobs", jobHandler.List)
			r.Get("/jobs/{id}", jobHandler.Get)
		})
	})

	return r
}
