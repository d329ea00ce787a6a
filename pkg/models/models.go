// Package models defines the core data types shared across the trust
// station, the gateway, and the agent client.
package models

import "time"

// ── Developer ────────────────────────────────────────────────

// Developer is the principal that owns agents. Created once by the
// out-of-scope registration flow; the core never mutates it after creation.
type Developer struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	APIKeyHash string    `json:"-"` // sha256(apiKey), never serialized
	CreatedAt  time.Time `json:"createdAt"`
}

// ── Agent status ─────────────────────────────────────────────

type AgentStatus string

const (
	AgentStatusActive    AgentStatus = "active"
	AgentStatusSuspended AgentStatus = "suspended"
	AgentStatusBanned    AgentStatus = "banned"
)

// Agent is identified by the (DeveloperID, ExternalID) pair and by a global
// internal UUID. Status-change is driven externally; the core only reads it.
//
// Invariant: SuccessfulActions + FailedActions <= TotalActions.
type Agent struct {
	ID                string      `json:"id"`
	DeveloperID       string      `json:"developerId"`
	ExternalID        string      `json:"externalId"`
	IdentityVerified  bool        `json:"identityVerified"`
	StakeAmount       float64     `json:"stakeAmount"`
	TotalActions      int64       `json:"totalActions"`
	SuccessfulActions int64       `json:"successfulActions"`
	FailedActions     int64       `json:"failedActions"`
	Status            AgentStatus `json:"status"`
	CreatedAt         time.Time   `json:"createdAt"`
	ReputationScore   int         `json:"reputationScore"`
}

// ── Vouch ────────────────────────────────────────────────────

// Vouch is a directed edge (Voucher -> Vouched) contributing to the vouched
// agent's score. Unique per ordered pair; Weight is informational (the
// calculator in internal/reputation counts vouches, it does not weigh them).
type Vouch struct {
	ID        string    `json:"id"`
	VoucherID string    `json:"voucherId"`
	VouchedID string    `json:"vouchedId"`
	Weight    int       `json:"weight"` // 1..5
	CreatedAt time.Time `json:"createdAt"`
}

// ── Certificate record ───────────────────────────────────────

// Certificate is the persisted row backing a signed clearance token.
// Invariant: IssuedAt < ExpiresAt; Revoked transitions only false -> true.
type Certificate struct {
	JTI       string    `json:"jti"`
	AgentID   string    `json:"agentId"`
	Score     int       `json:"score"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Revoked   bool      `json:"revoked"`
}

// ── Action log entry ─────────────────────────────────────────

type Decision string

const (
	DecisionAllowed Decision = "allowed"
	DecisionDenied  Decision = "denied"
)

// ActionLogEntry is an immutable audit record of a verification or report
// event.
type ActionLogEntry struct {
	ID         string                 `json:"id"`
	AgentID    string                 `json:"agentId"`
	ActionType string                 `json:"actionType"`
	Decision   Decision               `json:"decision"`
	Reason     string                 `json:"reason"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
}

// ── Reputation event ─────────────────────────────────────────

type ReputationEventType string

const (
	EventSuccess       ReputationEventType = "success"
	EventFailure       ReputationEventType = "failure"
	EventVouchReceived ReputationEventType = "vouch_received"
	EventStakeAdded    ReputationEventType = "stake_added"
	EventAbuseReported ReputationEventType = "abuse_reported"
)

// ReputationEvent is an immutable append-only log entry. ScoreChange is
// informational; the authoritative score always comes from a fresh
// recompute (see internal/reputation).
type ReputationEvent struct {
	ID          string              `json:"id"`
	AgentID     string              `json:"agentId"`
	EventType   ReputationEventType `json:"eventType"`
	ScoreChange int                 `json:"scoreChange"`
	CreatedAt   time.Time           `json:"createdAt"`
}

// ── Gateway report ────────────────────────────────────────────

// GatewayReportAction is one item in a batch report posted by a gateway.
type GatewayReportAction struct {
	ActionType  string                 `json:"actionType"`
	Outcome     string                 `json:"outcome"` // "success" | "failure"
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	PerformedAt time.Time              `json:"performedAt"`
}

// GatewayReport is the body of POST /reports (see spec §4.8).
type GatewayReport struct {
	AgentID        string                `json:"agentId"`
	GatewayID      string                `json:"gatewayId"`
	CertificateJTI string                `json:"certificateJti"`
	Actions        []GatewayReportAction `json:"actions"`
}

// GatewayReportSummary is the response to a successful batch report.
type GatewayReportSummary struct {
	AgentID             string `json:"agentId"`
	ActionsProcessed    int    `json:"actionsProcessed"`
	SuccessCount        int    `json:"successCount"`
	FailureCount        int    `json:"failureCount"`
	NewReputationScore  int    `json:"newReputationScore"`
}

// ── Reputation factor breakdown ──────────────────────────────

// ReputationBreakdown is returned by GET /agents/{externalId}/reputation.
type ReputationBreakdown struct {
	Score            int `json:"score"`
	Base             int `json:"base"`
	IdentityBonus    int `json:"identityBonus"`
	StakeBonus       int `json:"stakeBonus"`
	VouchBonus       int `json:"vouchBonus"`
	SuccessRateBonus int `json:"successRateBonus"`
	AgeBonus         int `json:"ageBonus"`
	FailurePenalty   int `json:"failurePenalty"`
	VouchesReceived  int `json:"vouchesReceived"`
}

// ── Certificate JWT claims ────────────────────────────────────

// CertificateClaims is the decoded payload of an issued certificate,
// including the registered claims (iss/sub/jti/iat/exp).
type CertificateClaims struct {
	Subject          string   `json:"sub"`
	AgentExternalID  string   `json:"agentExternalId"`
	DeveloperID      string   `json:"developerId"`
	Score            int      `json:"score"`
	IdentityVerified bool     `json:"identityVerified"`
	Status           string   `json:"status"`
	TotalActions     int64    `json:"totalActions"`
	SuccessRate      *float64 `json:"successRate"`
	Issuer           string   `json:"iss"`
	JTI              string   `json:"jti"`
	IssuedAt         int64    `json:"iat"`
	ExpiresAt        int64    `json:"exp"`
	Scope            []string `json:"scope,omitempty"`
}

// StationIssuer is the fixed "iss" claim value on every certificate.
const StationIssuer = "agent-trust-station"

// ── Gateway session (in-memory, not persisted) ───────────────

type SessionState string

const (
	SessionAbsent  SessionState = "absent"
	SessionActive  SessionState = "active"
	SessionBlocked SessionState = "blocked"
)

// SessionAction is one recorded action within a gateway session.
type SessionAction struct {
	ActionName        string    `json:"actionName"`
	ParamsFingerprint string    `json:"paramsFingerprint"`
	Success           bool      `json:"success"`
	ScopeViolation    bool      `json:"scopeViolation"`
	Timestamp         time.Time `json:"timestamp"`
}

// Session is a per-agent live behavioral session tracked by one gateway
// process. Never persisted, never shared across gateways.
type Session struct {
	AgentID        string          `json:"agentId"`
	ExternalID     string          `json:"externalId"`
	StartedAt      time.Time       `json:"startedAt"`
	LastActivityAt time.Time       `json:"lastActivityAt"`
	BehaviorScore  int             `json:"behaviorScore"`
	Actions        []SessionAction `json:"actions"`
	Flags          map[string]bool `json:"flags"`
	Blocked        bool            `json:"blocked"`
}

// SessionSnapshot is the public view returned by GET /behavior/sessions.
type SessionSnapshot struct {
	AgentID        string    `json:"agentId"`
	ExternalID     string    `json:"externalId"`
	BehaviorScore  int       `json:"behaviorScore"`
	Flags          []string  `json:"flags"`
	Blocked        bool      `json:"blocked"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// BehaviorEvent is emitted to the configured listener whenever a new flag
// fires and a penalty is applied.
type BehaviorEvent struct {
	AgentID   string    `json:"agentId"`
	Flag      string    `json:"flag"`
	Penalty   int       `json:"penalty"`
	NewScore  int       `json:"newScore"`
	Blocked   bool      `json:"blocked"`
	Timestamp time.Time `json:"timestamp"`
}

// ── Action registry ───────────────────────────────────────────

type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamObject  ParamType = "object"
	ParamArray   ParamType = "array"
)

// ParamSpec describes one named parameter of a registered action.
type ParamSpec struct {
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description"`
}

// ActionContext describes the calling agent, passed into every handler.
type ActionContext struct {
	AgentID         string
	AgentExternalID string
	Score           int
}

// ActionHandler executes a registered action.
type ActionHandler func(ctx ActionContext, params map[string]interface{}) (interface{}, error)

// ActionDef is one entry in the per-gateway action registry.
type ActionDef struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	MinScore    int                  `json:"minScore"`
	Parameters  map[string]ParamSpec `json:"parameters"`
	Handler     ActionHandler        `json:"-"`
}

// ActionPublicView is ActionDef with the handler stripped, for listing.
type ActionPublicView struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	MinScore    int                  `json:"minScore"`
	Parameters  map[string]ParamSpec `json:"parameters"`
}

// ── ML threat adapter ────────────────────────────────────────

type ThreatType string

const (
	ThreatPromptInjection ThreatType = "prompt_injection"
	ThreatMaliciousURL    ThreatType = "malicious_url"
)

// Threat is one finding from the ML threat analyzer.
type Threat struct {
	Type       ThreatType `json:"type"`
	Field      string     `json:"field"`
	Confidence float64    `json:"confidence"`
	Value      string     `json:"value"`
}

// ThreatReport is the output of one analysis call.
type ThreatReport struct {
	Safe           bool     `json:"safe"`
	Threats        []Threat `json:"threats"`
	AnalysisTimeMs int64    `json:"analysisTimeMs"`
}

// ── Behavior advisory (attached to gateway responses) ────────

// BehaviorAdvisory is attached to a gateway response when the behavior
// score is below 80 or any flag fired during this request.
type BehaviorAdvisory struct {
	Score   int      `json:"score"`
	Flags   []string `json:"flags"`
	Warning string   `json:"warning"`
}
