// Package stationapi implements the station's HTTP surface (spec §6): the
// public-key discovery endpoints, developer/agent registration, certificate
// issuance and verification, pre-action checks, and gateway batch report
// ingestion (spec §4.8).
package stationapi

import (
	"net/http"

	"github.com/agenttrust/station/internal/certs"
	"github.com/agenttrust/station/internal/config"
	"github.com/agenttrust/station/internal/httpmw"
	"github.com/agenttrust/station/internal/store"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Server bundles the dependencies every station handler needs.
type Server struct {
	Store              store.Store
	Issuer             *certs.Issuer
	RemoteVerifier     *certs.RemoteVerifier
	PublicKeyPEM       string
	ServiceName        string
	CertExpirySeconds  int
}

// NewRouter builds the station's chi router.
func NewRouter(cfg *config.StationConfig, srv *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(httpmw.Logger)
	r.Use(httpmw.Telemetry("agent-trust-station"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/.well-known/station-keys", srv.handleStationKeys)
	r.Get("/.well-known/station-info", srv.handleStationInfo)

	r.Post("/developers/register", srv.handleRegisterDeveloper)
	r.Get("/certificates/verify", srv.handleVerifyCertificate)

	r.Group(func(r chi.Router) {
		r.Use(httpmw.DeveloperAuth(srv.Store))
		r.Post("/developers/agents", srv.handleRegisterAgent)
		r.Post("/certificates/request", srv.handleRequestCertificate)
		r.Post("/verify", srv.handlePreActionVerify)
		r.Post("/report", srv.handleReport)
		r.Post("/reports", srv.handleReports)
		r.Get("/agents/{externalId}/reputation", srv.handleReputation)
	})

	return r
}
