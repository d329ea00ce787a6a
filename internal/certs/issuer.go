package certs

import (
	"context"
	"crypto/rsa"
	"time"

	"github.com/agenttrust/station/internal/apierr"
	"github.com/agenttrust/station/internal/reputation"
	"github.com/agenttrust/station/internal/store"
	"github.com/agenttrust/station/pkg/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer implements the issue() operation from spec §4.2.
type Issuer struct {
	store         store.Store
	privateKey    *rsa.PrivateKey
	expirySeconds int
}

// NewIssuer builds an Issuer signing with privateKey; every issued
// certificate expires expirySeconds after issuance.
func NewIssuer(st store.Store, privateKey *rsa.PrivateKey, expirySeconds int) *Issuer {
	return &Issuer{store: st, privateKey: privateKey, expirySeconds: expirySeconds}
}

// Result is the return value of Issue: the compact JWS plus the fields the
// station's HTTP handler echoes back to the caller.
type Result struct {
	Token     string
	ExpiresAt time.Time
	Score     int
}

// Issue recomputes the agent's reputation score, mints a signed certificate
// asserting it, and persists the certificate record.
func (iss *Issuer) Issue(ctx context.Context, developerID, externalID string, scope []string) (*Result, error) {
	agent, err := iss.store.GetAgent(ctx, developerID, externalID)
	if err != nil {
		if _, ok := err.(*store.ErrNotFound); ok {
			return nil, apierr.New(apierr.NotFound, "agent not found: "+externalID)
		}
		return nil, apierr.New(apierr.Internal, "lookup failed: "+err.Error())
	}
	if agent.Status == models.AgentStatusBanned || agent.Status == models.AgentStatusSuspended {
		return nil, apierr.New(apierr.Forbidden, "agent status is "+string(agent.Status))
	}

	vouchCount, err := iss.store.CountVouchesReceived(ctx, agent.ID)
	if err != nil {
		return nil, apierr.New(apierr.Internal, "vouch lookup failed: "+err.Error())
	}
	score := reputation.Score(reputation.Input{
		IdentityVerified:     agent.IdentityVerified,
		StakeAmount:          agent.StakeAmount,
		VouchesReceivedCount: vouchCount,
		TotalActions:         agent.TotalActions,
		SuccessfulActions:    agent.SuccessfulActions,
		FailedActions:        agent.FailedActions,
		CreatedAt:            agent.CreatedAt,
	})

	now := time.Now().UTC()
	expiresAt := now.Add(time.Duration(iss.expirySeconds) * time.Second)
	jti := uuid.NewString()

	claims := models.CertificateClaims{
		Subject:          agent.ID,
		AgentExternalID:  agent.ExternalID,
		DeveloperID:      agent.DeveloperID,
		Score:            score,
		IdentityVerified: agent.IdentityVerified,
		Status:           string(agent.Status),
		TotalActions:     agent.TotalActions,
		SuccessRate:      reputation.SuccessRate(agent.SuccessfulActions, agent.TotalActions),
		Issuer:           models.StationIssuer,
		JTI:              jti,
		IssuedAt:         now.Unix(),
		ExpiresAt:        expiresAt.Unix(),
		Scope:            scope,
	}

	token, err := sign(claims, iss.privateKey)
	if err != nil {
		return nil, apierr.New(apierr.Internal, "sign failed: "+err.Error())
	}

	cert := &models.Certificate{
		JTI:       jti,
		AgentID:   agent.ID,
		Score:     score,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
		Revoked:   false,
	}
	if err := iss.store.CreateCertificate(ctx, cert); err != nil {
		return nil, apierr.New(apierr.Internal, "persist certificate failed: "+err.Error())
	}

	if agent.ReputationScore != score {
		agent.ReputationScore = score
		_ = iss.store.UpdateAgent(ctx, agent)
	}

	return &Result{Token: token, ExpiresAt: expiresAt, Score: score}, nil
}

// jwtClaims adapts models.CertificateClaims to jwt.Claims, mapping the
// registered iss/sub/jti/iat/exp names the library expects onto our struct.
type jwtClaims struct {
	models.CertificateClaims
}

func (c jwtClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.ExpiresAt, 0)), nil
}
func (c jwtClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}
func (c jwtClaims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c jwtClaims) GetIssuer() (string, error)              { return c.Issuer, nil }
func (c jwtClaims) GetSubject() (string, error)             { return c.Subject, nil }
func (c jwtClaims) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

func sign(claims models.CertificateClaims, key *rsa.PrivateKey) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwtClaims{claims})
	return token.SignedString(key)
}
