// Package config loads process configuration from environment variables
// for both the trust station and the gateway.
package config

import (
	"os"
	"strconv"
	"time"
)

// StationConfig holds all configuration for the trust station process.
type StationConfig struct {
	Port                    int
	Database                DatabaseConfig
	Telemetry               TelemetryConfig
	PrivateKeyPEM           string
	PublicKeyPEM            string
	CertificateExpirySeconds int
}

// DatabaseConfig configures the station's durable store.
type DatabaseConfig struct {
	URL            string
	MaxConnections int
}

// TelemetryConfig configures OpenTelemetry tracing, shared by both processes.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// LoadStation reads station configuration from environment variables with
// sensible defaults. DATABASE_URL, STATION_PRIVATE_KEY and STATION_PUBLIC_KEY
// have no default; cmd/station/main.go exits non-zero at startup if any of
// them is unset rather than falling back to throwaway state.
func LoadStation() *StationConfig {
	return &StationConfig{
		Port: envInt("PORT", 3000),
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 25),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "agent-trust-station"),
		},
		PrivateKeyPEM:            os.Getenv("STATION_PRIVATE_KEY"),
		PublicKeyPEM:             os.Getenv("STATION_PUBLIC_KEY"),
		CertificateExpirySeconds: envInt("CERTIFICATE_EXPIRY_SECONDS", 300),
	}
}

// GatewayConfig holds all configuration for a gateway process.
type GatewayConfig struct {
	Port             int
	GatewayID        string
	StationURL       string
	StationAPIKey    string
	KeyRefreshPeriod time.Duration
	Telemetry        TelemetryConfig
	Behavior         BehaviorConfig
	MLThreatDetection bool
}

// BehaviorConfig tunes the live behavior tracker (spec §4.6).
type BehaviorConfig struct {
	SessionTimeout              time.Duration
	MaxActionsPerMinute         int
	MaxFailuresBeforeFlag       int
	MaxUniqueActionsPerMinute   int
	MaxRepeatedActionsPerMinute int
	ViolationPenalty            int
	BlockThreshold              int
	SweepInterval               time.Duration
}

// LoadGateway reads gateway configuration from environment variables.
func LoadGateway() *GatewayConfig {
	return &GatewayConfig{
		Port:             envInt("GATEWAY_PORT", 8081),
		GatewayID:        envStr("GATEWAY_ID", "gateway-1"),
		StationURL:       envStr("STATION_URL", "http://localhost:3000"),
		StationAPIKey:    os.Getenv("STATION_API_KEY"),
		KeyRefreshPeriod: envDuration("STATION_KEY_REFRESH_INTERVAL", 3600*time.Second),
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "agent-trust-gateway"),
		},
		Behavior: BehaviorConfig{
			SessionTimeout:              envDuration("BEHAVIOR_SESSION_TIMEOUT", 300*time.Second),
			MaxActionsPerMinute:         envInt("BEHAVIOR_MAX_ACTIONS_PER_MINUTE", 30),
			MaxFailuresBeforeFlag:       envInt("BEHAVIOR_MAX_FAILURES", 5),
			MaxUniqueActionsPerMinute:   envInt("BEHAVIOR_MAX_UNIQUE_ACTIONS_PER_MINUTE", 10),
			MaxRepeatedActionsPerMinute: envInt("BEHAVIOR_MAX_REPEATED_ACTIONS_PER_MINUTE", 10),
			ViolationPenalty:            envInt("BEHAVIOR_VIOLATION_PENALTY", 10),
			BlockThreshold:              envInt("BEHAVIOR_BLOCK_THRESHOLD", 20),
			SweepInterval:               envDuration("BEHAVIOR_SWEEP_INTERVAL", 60*time.Second),
		},
		MLThreatDetection: envBool("GATEWAY_ML_THREAT_DETECTION", true),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
