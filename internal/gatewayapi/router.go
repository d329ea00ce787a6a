package gatewayapi

import (
	"net/http"

	"github.com/agenttrust/station/internal/apierr"
	"github.com/agenttrust/station/internal/httpmw"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds the gateway's chi router (spec §6).
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(httpmw.Logger)
	r.Use(httpmw.Telemetry("agent-trust-gateway"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Agent-Certificate"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/.well-known/agent-gateway", s.handleDiscovery)
	r.Get("/actions", s.handleListActions)
	r.Post("/actions/{name}", s.handleExecuteAction)
	r.Get("/behavior/sessions", s.handleBehaviorSessions)

	return r
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	apierr.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"gatewayId": s.GatewayID,
		"actions":   s.Registry.Names(),
		"features": map[string]bool{
			"ml_threat_detection": s.MLEnabled,
		},
	})
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	apierr.WriteJSON(w, http.StatusOK, s.Registry.List())
}

func (s *Server) handleBehaviorSessions(w http.ResponseWriter, r *http.Request) {
	apierr.WriteJSON(w, http.StatusOK, s.Tracker.Snapshot())
}
