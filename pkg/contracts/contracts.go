// Package contracts defines the few service interfaces that sit between
// the station/gateway HTTP handlers and their concrete implementations —
// enough to let the in-memory store stand in for PostgreSQL in tests, and
// to let a real ML model stand in for the bundled rule-based analyzer
// without touching gateway pipeline code (spec §4.9: "an interface, not a
// model").
package contracts

import (
	"context"

	"github.com/agenttrust/station/internal/store"
	"github.com/agenttrust/station/pkg/models"
)

// Store is a type alias for the internal Store interface, exposed here so
// packages outside internal/ (cmd/, pkg/agentclient) can reference it.
type Store = store.Store

// ErrNotFound is a type alias for the internal ErrNotFound error.
type ErrNotFound = store.ErrNotFound

// ErrConflict is a type alias for the internal ErrConflict error.
type ErrConflict = store.ErrConflict

// ThreatAnalyzer is the optional ML threat adapter boundary (spec §4.9).
// It has the same method set as threat.Analyzer, the interface the gateway
// pipeline's threat.Adapter wraps, so any implementation of one satisfies
// the other and swapping the bundled rule-based analyzer for a real one is
// a single wiring change.
type ThreatAnalyzer interface {
	Analyze(ctx context.Context, params map[string]interface{}, agentID string) (*models.ThreatReport, error)
}
