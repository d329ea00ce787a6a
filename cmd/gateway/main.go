// Command gateway runs a gateway process: the enforcement point that
// verifies certificates locally, tracks live behavior, and executes
// registered actions on behalf of a relying service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agenttrust/station/internal/behavior"
	"github.com/agenttrust/station/internal/certs"
	"github.com/agenttrust/station/internal/config"
	"github.com/agenttrust/station/internal/gatewayapi"
	"github.com/agenttrust/station/internal/registry"
	"github.com/agenttrust/station/internal/telemetry"
	"github.com/agenttrust/station/internal/threat"
	"github.com/agenttrust/station/pkg/models"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("agent gateway starting")

	cfg := config.LoadGateway()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer shutdownTelemetry(context.Background())

	verifier := certs.NewLocalVerifier(nil)
	refresher := &certs.KeyRefresher{StationURL: cfg.StationURL, Verifier: verifier, Interval: cfg.KeyRefreshPeriod}
	if err := refresher.FetchOnce(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to fetch station public key at startup")
	}
	go refresher.Start(ctx)

	reg := registry.New()
	registerDemoActions(reg)

	tracker := behavior.New(behavior.Config{
		SessionTimeout:              cfg.Behavior.SessionTimeout,
		MaxActionsPerMinute:         cfg.Behavior.MaxActionsPerMinute,
		MaxFailuresBeforeFlag:       cfg.Behavior.MaxFailuresBeforeFlag,
		MaxUniqueActionsPerMinute:   cfg.Behavior.MaxUniqueActionsPerMinute,
		MaxRepeatedActionsPerMinute: cfg.Behavior.MaxRepeatedActionsPerMinute,
		ViolationPenalty:            cfg.Behavior.ViolationPenalty,
		BlockThreshold:              cfg.Behavior.BlockThreshold,
		SweepInterval:               cfg.Behavior.SweepInterval,
	}, func(evt models.BehaviorEvent) {
		log.Warn().
			Str("agentId", evt.AgentID).
			Str("flag", evt.Flag).
			Int("penalty", evt.Penalty).
			Int("newScore", evt.NewScore).
			Bool("blocked", evt.Blocked).
			Msg("behavior flag fired")
	})
	go tracker.Start(ctx)

	server := &gatewayapi.Server{
		GatewayID: cfg.GatewayID,
		Verifier:  verifier,
		Registry:  reg,
		Tracker:   tracker,
		Threat:    threat.NewAdapter(threat.NewRuleAnalyzer()),
		Reporter:  gatewayapi.NewReporter(cfg.StationURL, cfg.StationAPIKey),
		MLEnabled: cfg.MLThreatDetection,
	}
	router := gatewayapi.NewRouter(server)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Int("port", cfg.Port).Str("gatewayId", cfg.GatewayID).Msg("agent gateway ready")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}

// registerDemoActions wires up three demo actions ("search" minScore 30,
// "order" minScore 60, "checkout" minScore 50) so the binary is runnable
// out of the box; a relying service embedding this gateway would register
// its own instead.
func registerDemoActions(reg *registry.Registry) {
	reg.Register(models.ActionDef{
		Name:        "search",
		Description: "search a catalog for matching items",
		MinScore:    30,
		Parameters: map[string]models.ParamSpec{
			"query": {Type: models.ParamString, Required: true, Description: "search text"},
		},
		Handler: func(ctx models.ActionContext, params map[string]interface{}) (interface{}, error) {
			query, _ := params["query"].(string)
			return []string{query}, nil
		},
	})

	reg.Register(models.ActionDef{
		Name:        "order",
		Description: "place an order for an item",
		MinScore:    60,
		Parameters: map[string]models.ParamSpec{
			"itemId":   {Type: models.ParamString, Required: true, Description: "item identifier"},
			"quantity": {Type: models.ParamNumber, Required: true, Description: "quantity to order"},
		},
		Handler: func(ctx models.ActionContext, params map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"orderId": ctx.AgentExternalID + "-order", "status": "placed"}, nil
		},
	})

	reg.Register(models.ActionDef{
		Name:        "checkout",
		Description: "finalize a cart",
		MinScore:    50,
		Parameters:  map[string]models.ParamSpec{},
		Handler: func(ctx models.ActionContext, params map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"status": "checked_out"}, nil
		},
	})
}
