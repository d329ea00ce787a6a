package certs

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agenttrust/station/internal/store"
	"github.com/agenttrust/station/pkg/models"
	"github.com/golang-jwt/jwt/v5"
)

// VerifyKind is the specific verification failure from spec §4.3, kept
// distinct from apierr.Kind so callers can choose the right HTTP status
// (MissingCredential/InvalidSignature -> 401, AgentDisabled -> 403).
type VerifyKind string

const (
	MissingCredential VerifyKind = "MissingCredential"
	Expired           VerifyKind = "Expired"
	InvalidSignature  VerifyKind = "InvalidSignature"
	AgentDisabled     VerifyKind = "AgentDisabled"
	Revoked           VerifyKind = "Revoked"
)

// VerifyError reports why a certificate failed verification.
type VerifyError struct {
	Kind    VerifyKind
	Message string
}

func (e *VerifyError) Error() string { return e.Message }

// LocalVerifier checks a bearer token's signature and standard claims
// against a cached public key, with no database round trip (spec §4.3,
// "local path (gateway-side, preferred)").
type LocalVerifier struct {
	mu        sync.RWMutex
	publicKey *rsa.PublicKey
}

// NewLocalVerifier builds a verifier pinned to the given public key.
func NewLocalVerifier(publicKey *rsa.PublicKey) *LocalVerifier {
	return &LocalVerifier{publicKey: publicKey}
}

// SetPublicKey replaces the cached key, used by the periodic refresh timer.
func (v *LocalVerifier) SetPublicKey(publicKey *rsa.PublicKey) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.publicKey = publicKey
}

// Verify parses and validates token, returning the decoded claims.
func (v *LocalVerifier) Verify(token string) (*models.CertificateClaims, *VerifyError) {
	if token == "" {
		return nil, &VerifyError{Kind: MissingCredential, Message: "no bearer credential supplied"}
	}

	v.mu.RLock()
	key := v.publicKey
	v.mu.RUnlock()
	if key == nil {
		return nil, &VerifyError{Kind: InvalidSignature, Message: "no station public key cached"}
	}

	claims := &rawClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	}, jwt.WithIssuer(models.StationIssuer))

	if err != nil {
		if isExpiredErr(err) {
			return nil, &VerifyError{Kind: Expired, Message: "certificate expired"}
		}
		return nil, &VerifyError{Kind: InvalidSignature, Message: "signature invalid: " + err.Error()}
	}
	if !parsed.Valid {
		return nil, &VerifyError{Kind: InvalidSignature, Message: "token not valid"}
	}

	decoded := claims.toModel()
	if decoded.ExpiresAt <= time.Now().Unix() {
		return nil, &VerifyError{Kind: Expired, Message: "certificate expired"}
	}
	if decoded.Status == string(models.AgentStatusBanned) || decoded.Status == string(models.AgentStatusSuspended) {
		return nil, &VerifyError{Kind: AgentDisabled, Message: "agent status is " + decoded.Status}
	}
	return decoded, nil
}

func isExpiredErr(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}

// rawClaims mirrors models.CertificateClaims for jwt/v5's decoder, which
// requires GetX accessor methods on the claims type it parses into.
type rawClaims struct {
	models.CertificateClaims
}

func (c *rawClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.ExpiresAt, 0)), nil
}
func (c *rawClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}
func (c *rawClaims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c *rawClaims) GetIssuer() (string, error)              { return c.Issuer, nil }
func (c *rawClaims) GetSubject() (string, error)             { return c.Subject, nil }
func (c *rawClaims) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

func (c *rawClaims) toModel() *models.CertificateClaims {
	cp := c.CertificateClaims
	return &cp
}

// RemoteVerifier runs the local checks plus a database lookup by jti,
// failing if the certificate record is missing or revoked (spec §4.3,
// "remote path (station-side fallback)").
type RemoteVerifier struct {
	local *LocalVerifier
	store store.CertificateStore
}

// NewRemoteVerifier builds a verifier layering a certificate-record check
// on top of local signature verification.
func NewRemoteVerifier(local *LocalVerifier, st store.CertificateStore) *RemoteVerifier {
	return &RemoteVerifier{local: local, store: st}
}

// Verify runs the local checks, then confirms the certificate record still
// exists and has not been revoked.
func (v *RemoteVerifier) Verify(ctx context.Context, token string) (*models.CertificateClaims, *VerifyError) {
	claims, verr := v.local.Verify(token)
	if verr != nil {
		return nil, verr
	}

	cert, err := v.store.GetCertificate(ctx, claims.JTI)
	if err != nil {
		return nil, &VerifyError{Kind: InvalidSignature, Message: "certificate record not found"}
	}
	if cert.Revoked {
		return nil, &VerifyError{Kind: Revoked, Message: "certificate has been revoked"}
	}
	return claims, nil
}

// MarshalDiscoveryInfo builds the JSON body served at the public-key
// distribution endpoint (spec §4.4).
func MarshalDiscoveryInfo(publicKeyPEM string) ([]byte, error) {
	return json.Marshal(struct {
		PublicKey string `json:"publicKey"`
		Algorithm string `json:"algorithm"`
		Use       string `json:"use"`
		Issuer    string `json:"issuer"`
	}{
		PublicKey: publicKeyPEM,
		Algorithm: "RS256",
		Use:       "sig",
		Issuer:    models.StationIssuer,
	})
}
