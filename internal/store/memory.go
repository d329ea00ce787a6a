// Package store — in-memory Store implementation.
// Used by tests; cmd/station always uses the Postgres store and exits when
// DATABASE_URL is unset.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/agenttrust/station/pkg/models"
	"github.com/google/uuid"
)

// MemoryStore implements Store with in-memory maps. Reads and writes to
// the top-level maps are guarded by mu; WithAgentLock additionally takes a
// per-agent lock so that concurrent recomputes for *different* agents never
// block each other (spec §5).
type MemoryStore struct {
	mu sync.RWMutex

	developersByID     map[string]*models.Developer
	developersByKeyHash map[string]*models.Developer
	agents             map[string]*models.Agent // key: internal UUID
	agentsByExternal    map[string]*models.Agent // key: developerID + "/" + externalID
	vouches            map[string]*models.Vouch // key: voucherID + "->" + vouchedID
	certificates       map[string]*models.Certificate
	actionLog          []*models.ActionLogEntry
	reputationEvents   []*models.ReputationEvent
	gatewayReports     []*models.GatewayReport

	// agentLocks serializes read-modify-write sequences per agent, mirroring
	// the per-agent advisory lock used by the Postgres implementation.
	agentLocksMu sync.Mutex
	agentLocks   map[string]*sync.Mutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		developersByID:      make(map[string]*models.Developer),
		developersByKeyHash: make(map[string]*models.Developer),
		agents:              make(map[string]*models.Agent),
		agentsByExternal:    make(map[string]*models.Agent),
		vouches:             make(map[string]*models.Vouch),
		certificates:        make(map[string]*models.Certificate),
		agentLocks:          make(map[string]*sync.Mutex),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// ── Developer ─────────────────────────────────────────────────

func (m *MemoryStore) CreateDeveloper(ctx context.Context, dev *models.Developer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dev.ID == "" {
		dev.ID = uuid.NewString()
	}
	if _, exists := m.developersByKeyHash[dev.APIKeyHash]; exists {
		return &ErrConflict{Entity: "developer", Key: "api key"}
	}
	m.developersByID[dev.ID] = dev
	m.developersByKeyHash[dev.APIKeyHash] = dev
	return nil
}

func (m *MemoryStore) GetDeveloperByAPIKeyHash(ctx context.Context, keyHash string) (*models.Developer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dev, ok := m.developersByKeyHash[keyHash]
	if !ok {
		return nil, &ErrNotFound{Entity: "developer", Key: "api key"}
	}
	return dev, nil
}

func (m *MemoryStore) GetDeveloper(ctx context.Context, id string) (*models.Developer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dev, ok := m.developersByID[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "developer", Key: id}
	}
	return dev, nil
}

// HashAPIKey returns the lookup key used for O(1) developer authentication
// (spec §9: must not scan all developers on each request).
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// ── Agent ─────────────────────────────────────────────────────

func externalKey(developerID, externalID string) string {
	return developerID + "/" + externalID
}

func (m *MemoryStore) CreateAgent(ctx context.Context, agent *models.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	key := externalKey(agent.DeveloperID, agent.ExternalID)
	if _, exists := m.agentsByExternal[key]; exists {
		return &ErrConflict{Entity: "agent", Key: key}
	}
	m.agents[agent.ID] = agent
	m.agentsByExternal[key] = agent
	return nil
}

func (m *MemoryStore) GetAgent(ctx context.Context, developerID, externalID string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agent, ok := m.agentsByExternal[externalKey(developerID, externalID)]
	if !ok {
		return nil, &ErrNotFound{Entity: "agent", Key: externalKey(developerID, externalID)}
	}
	cp := *agent
	return &cp, nil
}

func (m *MemoryStore) GetAgentByID(ctx context.Context, id string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agent, ok := m.agents[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "agent", Key: id}
	}
	cp := *agent
	return &cp, nil
}

func (m *MemoryStore) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[agent.ID]; !ok {
		return &ErrNotFound{Entity: "agent", Key: agent.ID}
	}
	cp := *agent
	m.agents[agent.ID] = &cp
	m.agentsByExternal[externalKey(agent.DeveloperID, agent.ExternalID)] = &cp
	return nil
}

// lockFor returns the mutex guarding a single agent's read-modify-write
// sequences, creating it on first use.
func (m *MemoryStore) lockFor(agentID string) *sync.Mutex {
	m.agentLocksMu.Lock()
	defer m.agentLocksMu.Unlock()

	l, ok := m.agentLocks[agentID]
	if !ok {
		l = &sync.Mutex{}
		m.agentLocks[agentID] = l
	}
	return l
}

// WithAgentLock serializes the read-modify-write sequence for one agent.
// fn receives a fresh copy of the agent and must call UpdateAgent itself
// to persist any change — mirroring the Postgres implementation, where
// fn's UpdateAgent is a separate statement run while the advisory lock is held.
func (m *MemoryStore) WithAgentLock(ctx context.Context, agentID string, fn func(agent *models.Agent) error) error {
	lock := m.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	agent, err := m.GetAgentByID(ctx, agentID)
	if err != nil {
		return err
	}
	return fn(agent)
}

// ── Vouch ─────────────────────────────────────────────────────

func vouchKey(voucherID, vouchedID string) string {
	return voucherID + "->" + vouchedID
}

func (m *MemoryStore) CreateVouch(ctx context.Context, vouch *models.Vouch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := vouchKey(vouch.VoucherID, vouch.VouchedID)
	if _, exists := m.vouches[key]; exists {
		return &ErrConflict{Entity: "vouch", Key: key}
	}
	if vouch.ID == "" {
		vouch.ID = uuid.NewString()
	}
	m.vouches[key] = vouch
	return nil
}

func (m *MemoryStore) GetVouch(ctx context.Context, voucherID, vouchedID string) (*models.Vouch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.vouches[vouchKey(voucherID, vouchedID)]
	if !ok {
		return nil, &ErrNotFound{Entity: "vouch", Key: vouchKey(voucherID, vouchedID)}
	}
	return v, nil
}

func (m *MemoryStore) CountVouchesReceived(ctx context.Context, agentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, v := range m.vouches {
		if v.VouchedID == agentID {
			count++
		}
	}
	return count, nil
}

// ── Certificate ───────────────────────────────────────────────

func (m *MemoryStore) CreateCertificate(ctx context.Context, cert *models.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.certificates[cert.JTI]; exists {
		return &ErrConflict{Entity: "certificate", Key: cert.JTI}
	}
	m.certificates[cert.JTI] = cert
	return nil
}

func (m *MemoryStore) GetCertificate(ctx context.Context, jti string) (*models.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cert, ok := m.certificates[jti]
	if !ok {
		return nil, &ErrNotFound{Entity: "certificate", Key: jti}
	}
	cp := *cert
	return &cp, nil
}

func (m *MemoryStore) RevokeCertificate(ctx context.Context, jti string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cert, ok := m.certificates[jti]
	if !ok {
		return &ErrNotFound{Entity: "certificate", Key: jti}
	}
	cert.Revoked = true
	return nil
}

// ── Action log / reputation events / gateway reports ─────────

func (m *MemoryStore) AppendActionLog(ctx context.Context, entry *models.ActionLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.actionLog = append(m.actionLog, entry)
	return nil
}

func (m *MemoryStore) GetActionLogEntry(ctx context.Context, id string) (*models.ActionLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, entry := range m.actionLog {
		if entry.ID == id {
			cp := *entry
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "action log entry", Key: id}
}

func (m *MemoryStore) AppendReputationEvent(ctx context.Context, event *models.ReputationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	m.reputationEvents = append(m.reputationEvents, event)
	return nil
}

func (m *MemoryStore) AppendGatewayReport(ctx context.Context, report *models.GatewayReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gatewayReports = append(m.gatewayReports, report)
	return nil
}
