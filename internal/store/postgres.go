package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/agenttrust/station/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store using PostgreSQL via pgx. Read-modify-write
// sequences (reputation recompute, counter increments) are serialized per
// agent with a session-level advisory lock keyed by the agent ID (see
// WithAgentLock), as an alternative to an in-process mutex.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and ensures the schema exists.
func NewPostgresStore(ctx context.Context, connURL string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Msg("postgres store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS developers (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL DEFAULT '',
			email         TEXT NOT NULL DEFAULT '',
			api_key_hash  TEXT NOT NULL UNIQUE,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS agents (
			id                 TEXT PRIMARY KEY,
			developer_id       TEXT NOT NULL REFERENCES developers(id),
			external_id        TEXT NOT NULL,
			identity_verified  BOOLEAN NOT NULL DEFAULT FALSE,
			stake_amount       DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_actions      BIGINT NOT NULL DEFAULT 0,
			successful_actions BIGINT NOT NULL DEFAULT 0,
			failed_actions     BIGINT NOT NULL DEFAULT 0,
			status             TEXT NOT NULL DEFAULT 'active',
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			reputation_score   INTEGER NOT NULL DEFAULT 50,
			UNIQUE (developer_id, external_id)
		);

		CREATE TABLE IF NOT EXISTS vouches (
			id          TEXT PRIMARY KEY,
			voucher_id  TEXT NOT NULL REFERENCES agents(id),
			vouched_id  TEXT NOT NULL REFERENCES agents(id),
			weight      INTEGER NOT NULL DEFAULT 1,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (voucher_id, vouched_id)
		);

		CREATE TABLE IF NOT EXISTS certificates (
			jti         TEXT PRIMARY KEY,
			agent_id    TEXT NOT NULL REFERENCES agents(id),
			score       INTEGER NOT NULL,
			issued_at   TIMESTAMPTZ NOT NULL,
			expires_at  TIMESTAMPTZ NOT NULL,
			revoked     BOOLEAN NOT NULL DEFAULT FALSE
		);

		CREATE TABLE IF NOT EXISTS action_log (
			id           TEXT PRIMARY KEY,
			agent_id     TEXT NOT NULL,
			action_type  TEXT NOT NULL,
			decision     TEXT NOT NULL,
			reason       TEXT NOT NULL DEFAULT '',
			metadata     JSONB NOT NULL DEFAULT '{}',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS reputation_events (
			id           TEXT PRIMARY KEY,
			agent_id     TEXT NOT NULL,
			event_type   TEXT NOT NULL,
			score_change INTEGER NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS gateway_reports (
			id               TEXT PRIMARY KEY,
			agent_id         TEXT NOT NULL,
			gateway_id       TEXT NOT NULL,
			certificate_jti  TEXT NOT NULL,
			payload          JSONB NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_action_log_agent ON action_log (agent_id);
		CREATE INDEX IF NOT EXISTS idx_reputation_events_agent ON reputation_events (agent_id);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ── Developer ─────────────────────────────────────────────────

func (s *PostgresStore) CreateDeveloper(ctx context.Context, dev *models.Developer) error {
	if dev.ID == "" {
		dev.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO developers (id, name, email, api_key_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		dev.ID, dev.Name, dev.Email, dev.APIKeyHash, dev.CreatedAt)
	if isUniqueViolation(err) {
		return &ErrConflict{Entity: "developer", Key: "api key"}
	}
	return err
}

func (s *PostgresStore) GetDeveloperByAPIKeyHash(ctx context.Context, keyHash string) (*models.Developer, error) {
	var dev models.Developer
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, email, api_key_hash, created_at FROM developers WHERE api_key_hash = $1`,
		keyHash).Scan(&dev.ID, &dev.Name, &dev.Email, &dev.APIKeyHash, &dev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "developer", Key: "api key"}
	}
	return &dev, err
}

func (s *PostgresStore) GetDeveloper(ctx context.Context, id string) (*models.Developer, error) {
	var dev models.Developer
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, email, api_key_hash, created_at FROM developers WHERE id = $1`,
		id).Scan(&dev.ID, &dev.Name, &dev.Email, &dev.APIKeyHash, &dev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "developer", Key: id}
	}
	return &dev, err
}

// ── Agent ─────────────────────────────────────────────────────

func (s *PostgresStore) CreateAgent(ctx context.Context, agent *models.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agents (id, developer_id, external_id, identity_verified, stake_amount,
			total_actions, successful_actions, failed_actions, status, created_at, reputation_score)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		agent.ID, agent.DeveloperID, agent.ExternalID, agent.IdentityVerified, agent.StakeAmount,
		agent.TotalActions, agent.SuccessfulActions, agent.FailedActions, agent.Status,
		agent.CreatedAt, agent.ReputationScore)
	if isUniqueViolation(err) {
		return &ErrConflict{Entity: "agent", Key: agent.DeveloperID + "/" + agent.ExternalID}
	}
	return err
}

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(&a.ID, &a.DeveloperID, &a.ExternalID, &a.IdentityVerified, &a.StakeAmount,
		&a.TotalActions, &a.SuccessfulActions, &a.FailedActions, &a.Status, &a.CreatedAt, &a.ReputationScore)
	return &a, err
}

const agentColumns = `id, developer_id, external_id, identity_verified, stake_amount,
	total_actions, successful_actions, failed_actions, status, created_at, reputation_score`

func (s *PostgresStore) GetAgent(ctx context.Context, developerID, externalID string) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE developer_id = $1 AND external_id = $2`,
		developerID, externalID)
	agent, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "agent", Key: developerID + "/" + externalID}
	}
	return agent, err
}

func (s *PostgresStore) GetAgentByID(ctx context.Context, id string) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	agent, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "agent", Key: id}
	}
	return agent, err
}

func (s *PostgresStore) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET identity_verified=$2, stake_amount=$3, total_actions=$4,
			successful_actions=$5, failed_actions=$6, status=$7, reputation_score=$8
		WHERE id = $1`,
		agent.ID, agent.IdentityVerified, agent.StakeAmount, agent.TotalActions,
		agent.SuccessfulActions, agent.FailedActions, agent.Status, agent.ReputationScore)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "agent", Key: agent.ID}
	}
	return nil
}

// WithAgentLock holds a session-level Postgres advisory lock, keyed by the
// agent ID, for the duration of fn. fn is free to call UpdateAgent (a plain
// statement against the shared pool) as many times as it needs — unlike a
// SELECT ... FOR UPDATE held inside an open transaction, an advisory lock on
// its own connection never conflicts with fn's own writes, so there is no
// self-deadlock. A dedicated connection is acquired so the lock/unlock pair
// runs on the same session, as pg_advisory_lock requires.
func (s *PostgresStore) WithAgentLock(ctx context.Context, agentID string, fn func(agent *models.Agent) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	lockKey := agentLockKey(agentID)
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
		return err
	}
	defer conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, lockKey)

	agent, err := s.GetAgentByID(ctx, agentID)
	if err != nil {
		return err
	}
	return fn(agent)
}

// agentLockKey folds an agent's UUID into the int64 key pg_advisory_lock
// takes, via the low 63 bits of its FNV-1a hash.
func agentLockKey(agentID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(agentID))
	return int64(h.Sum64() &^ (1 << 63))
}

// ── Vouch ─────────────────────────────────────────────────────

func (s *PostgresStore) CreateVouch(ctx context.Context, vouch *models.Vouch) error {
	if vouch.ID == "" {
		vouch.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vouches (id, voucher_id, vouched_id, weight, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		vouch.ID, vouch.VoucherID, vouch.VouchedID, vouch.Weight, vouch.CreatedAt)
	if isUniqueViolation(err) {
		return &ErrConflict{Entity: "vouch", Key: vouch.VoucherID + "->" + vouch.VouchedID}
	}
	return err
}

func (s *PostgresStore) GetVouch(ctx context.Context, voucherID, vouchedID string) (*models.Vouch, error) {
	var v models.Vouch
	err := s.pool.QueryRow(ctx, `
		SELECT id, voucher_id, vouched_id, weight, created_at FROM vouches
		WHERE voucher_id = $1 AND vouched_id = $2`, voucherID, vouchedID).
		Scan(&v.ID, &v.VoucherID, &v.VouchedID, &v.Weight, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "vouch", Key: voucherID + "->" + vouchedID}
	}
	return &v, err
}

func (s *PostgresStore) CountVouchesReceived(ctx context.Context, agentID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM vouches WHERE vouched_id = $1`, agentID).Scan(&count)
	return count, err
}

// ── Certificate ───────────────────────────────────────────────

func (s *PostgresStore) CreateCertificate(ctx context.Context, cert *models.Certificate) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO certificates (jti, agent_id, score, issued_at, expires_at, revoked)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		cert.JTI, cert.AgentID, cert.Score, cert.IssuedAt, cert.ExpiresAt, cert.Revoked)
	if isUniqueViolation(err) {
		return &ErrConflict{Entity: "certificate", Key: cert.JTI}
	}
	return err
}

func (s *PostgresStore) GetCertificate(ctx context.Context, jti string) (*models.Certificate, error) {
	var c models.Certificate
	err := s.pool.QueryRow(ctx, `
		SELECT jti, agent_id, score, issued_at, expires_at, revoked FROM certificates WHERE jti = $1`, jti).
		Scan(&c.JTI, &c.AgentID, &c.Score, &c.IssuedAt, &c.ExpiresAt, &c.Revoked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "certificate", Key: jti}
	}
	return &c, err
}

func (s *PostgresStore) RevokeCertificate(ctx context.Context, jti string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE certificates SET revoked = TRUE WHERE jti = $1`, jti)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "certificate", Key: jti}
	}
	return nil
}

// ── Action log / reputation events / gateway reports ─────────

func (s *PostgresStore) AppendActionLog(ctx context.Context, entry *models.ActionLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO action_log (id, agent_id, action_type, decision, reason, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		entry.ID, entry.AgentID, entry.ActionType, entry.Decision, entry.Reason, meta, entry.CreatedAt)
	return err
}

func (s *PostgresStore) GetActionLogEntry(ctx context.Context, id string) (*models.ActionLogEntry, error) {
	var e models.ActionLogEntry
	var meta []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, agent_id, action_type, decision, reason, metadata, created_at
		FROM action_log WHERE id = $1`, id).
		Scan(&e.ID, &e.AgentID, &e.ActionType, &e.Decision, &e.Reason, &meta, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "action log entry", Key: id}
	}
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func (s *PostgresStore) AppendReputationEvent(ctx context.Context, event *models.ReputationEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reputation_events (id, agent_id, event_type, score_change, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		event.ID, event.AgentID, event.EventType, event.ScoreChange, event.CreatedAt)
	return err
}

func (s *PostgresStore) AppendGatewayReport(ctx context.Context, report *models.GatewayReport) error {
	payload, err := json.Marshal(report.Actions)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO gateway_reports (id, agent_id, gateway_id, certificate_jti, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,NOW())`,
		uuid.NewString(), report.AgentID, report.GatewayID, report.CertificateJTI, payload)
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && (pgErrCode(err) == "23505")
}

// pgErrCode extracts the Postgres error code without importing pgconn
// directly into call sites; kept narrow and local to this file.
func pgErrCode(err error) string {
	type sqlStater interface{ SQLState() string }
	var s sqlStater
	if errors.As(err, &s) {
		return s.SQLState()
	}
	return ""
}
