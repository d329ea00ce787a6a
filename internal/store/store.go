// Package store provides the storage interface and implementations for the
// trust station. internal/store/memory.go is an in-memory implementation
// used for local development and tests; internal/store/postgres.go is the
// pgx-backed production implementation.
package store

import (
	"context"

	"github.com/agenttrust/station/pkg/models"
)

// Store is the station's durable storage interface. All station handlers
// depend on this interface so tests can swap the in-memory implementation
// for the PostgreSQL one without touching handler code.
type Store interface {
	DeveloperStore
	AgentStore
	VouchStore
	CertificateStore
	ActionLogStore
	ReputationEventStore
	GatewayReportStore

	// Ping checks if the store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Developer store ───────────────────────────────────────────

type DeveloperStore interface {
	CreateDeveloper(ctx context.Context, dev *models.Developer) error
	GetDeveloperByAPIKeyHash(ctx context.Context, keyHash string) (*models.Developer, error)
	GetDeveloper(ctx context.Context, id string) (*models.Developer, error)
}

// ── Agent store ───────────────────────────────────────────────

type AgentStore interface {
	CreateAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, developerID, externalID string) (*models.Agent, error)
	GetAgentByID(ctx context.Context, id string) (*models.Agent, error)

	// WithAgentLock runs fn against the latest row for the agent, holding a
	// per-agent serialization lock (an advisory lock keyed by agent ID in
	// Postgres, a keyed mutex in memory) for the duration of fn. fn must persist any mutation itself
	// via UpdateAgent before returning. This is the primitive every
	// read-modify-write mutation (recompute, counters, vouch bookkeeping)
	// is built on — see spec §5.
	WithAgentLock(ctx context.Context, agentID string, fn func(agent *models.Agent) error) error

	UpdateAgent(ctx context.Context, agent *models.Agent) error
}

// ── Vouch store ───────────────────────────────────────────────

type VouchStore interface {
	CreateVouch(ctx context.Context, vouch *models.Vouch) error
	GetVouch(ctx context.Context, voucherID, vouchedID string) (*models.Vouch, error)
	CountVouchesReceived(ctx context.Context, agentID string) (int, error)
}

// ── Certificate store ─────────────────────────────────────────

type CertificateStore interface {
	CreateCertificate(ctx context.Context, cert *models.Certificate) error
	GetCertificate(ctx context.Context, jti string) (*models.Certificate, error)
	RevokeCertificate(ctx context.Context, jti string) error
}

// ── Action log store ──────────────────────────────────────────

type ActionLogStore interface {
	AppendActionLog(ctx context.Context, entry *models.ActionLogEntry) error
	GetActionLogEntry(ctx context.Context, id string) (*models.ActionLogEntry, error)
}

// ── Reputation event store ────────────────────────────────────

type ReputationEventStore interface {
	AppendReputationEvent(ctx context.Context, event *models.ReputationEvent) error
}

// ── Gateway report store ──────────────────────────────────────

type GatewayReportStore interface {
	AppendGatewayReport(ctx context.Context, report *models.GatewayReport) error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrConflict is returned when a unique constraint would be violated.
type ErrConflict struct {
	Entity string
	Key    string
}

func (e *ErrConflict) Error() string {
	return e.Entity + " already exists: " + e.Key
}
