package certs_test

import (
	"context"
	"testing"
	"time"

	"github.com/agenttrust/station/internal/certs"
	"github.com/agenttrust/station/internal/store"
	"github.com/agenttrust/station/pkg/models"
)

func newKeyPair(t *testing.T) (*certs.Issuer, *certs.LocalVerifier, store.Store) {
	t.Helper()
	priv, err := certs.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey() error = %v", err)
	}
	s := store.NewMemoryStore()
	issuer := certs.NewIssuer(s, priv, 300)
	verifier := certs.NewLocalVerifier(&priv.PublicKey)
	return issuer, verifier, s
}

func seedAgent(t *testing.T, s store.Store, status models.AgentStatus) *models.Agent {
	t.Helper()
	agent := &models.Agent{
		DeveloperID:       "dev-1",
		ExternalID:        "bot-1",
		IdentityVerified:  true,
		Status:            status,
		CreatedAt:         time.Now(),
		TotalActions:      10,
		SuccessfulActions: 8,
	}
	if err := s.CreateAgent(context.Background(), agent); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	return agent
}

func TestIssueAndVerify_RoundTrip(t *testing.T) {
	issuer, verifier, s := newKeyPair(t)
	seedAgent(t, s, models.AgentStatusActive)

	result, err := issuer.Issue(context.Background(), "dev-1", "bot-1", nil)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if result.Token == "" {
		t.Fatal("Issue() returned empty token")
	}

	claims, verr := verifier.Verify(result.Token)
	if verr != nil {
		t.Fatalf("Verify() error = %v", verr)
	}
	if claims.AgentExternalID != "bot-1" {
		t.Errorf("claims.AgentExternalID = %s, want bot-1", claims.AgentExternalID)
	}
	if claims.Issuer != models.StationIssuer {
		t.Errorf("claims.Issuer = %s, want %s", claims.Issuer, models.StationIssuer)
	}
	if claims.Score != result.Score {
		t.Errorf("claims.Score = %d, want %d", claims.Score, result.Score)
	}
}

func TestIssue_UnknownAgentFailsNotFound(t *testing.T) {
	issuer, _, _ := newKeyPair(t)
	_, err := issuer.Issue(context.Background(), "dev-1", "ghost", nil)
	if err == nil {
		t.Fatal("Issue() for unknown agent returned no error")
	}
}

func TestIssue_BannedAgentForbidden(t *testing.T) {
	issuer, _, s := newKeyPair(t)
	seedAgent(t, s, models.AgentStatusBanned)

	_, err := issuer.Issue(context.Background(), "dev-1", "bot-1", nil)
	if err == nil {
		t.Fatal("Issue() for banned agent returned no error")
	}
}

func TestIssue_ScopeCarriedVerbatim(t *testing.T) {
	issuer, verifier, s := newKeyPair(t)
	seedAgent(t, s, models.AgentStatusActive)

	result, err := issuer.Issue(context.Background(), "dev-1", "bot-1", []string{"search", "read"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, verr := verifier.Verify(result.Token)
	if verr != nil {
		t.Fatalf("Verify() error = %v", verr)
	}
	if len(claims.Scope) != 2 || claims.Scope[0] != "search" {
		t.Errorf("claims.Scope = %v, want [search read]", claims.Scope)
	}
}

func TestVerify_MissingCredential(t *testing.T) {
	_, verifier, _ := newKeyPair(t)
	_, verr := verifier.Verify("")
	if verr == nil || verr.Kind != certs.MissingCredential {
		t.Fatalf("Verify(\"\") = %v, want MissingCredential", verr)
	}
}

func TestVerify_Expired(t *testing.T) {
	priv, err := certs.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey() error = %v", err)
	}
	s := store.NewMemoryStore()
	seedAgent(t, s, models.AgentStatusActive)

	shortIssuer := certs.NewIssuer(s, priv, -5)
	verifier := certs.NewLocalVerifier(&priv.PublicKey)

	result, err := shortIssuer.Issue(context.Background(), "dev-1", "bot-1", nil)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	_, verr := verifier.Verify(result.Token)
	if verr == nil || verr.Kind != certs.Expired {
		t.Fatalf("Verify(expired token) = %v, want Expired", verr)
	}
}

func TestVerify_WrongKeyInvalidSignature(t *testing.T) {
	issuer, _, s := newKeyPair(t)
	seedAgent(t, s, models.AgentStatusActive)
	result, err := issuer.Issue(context.Background(), "dev-1", "bot-1", nil)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	otherKey, err := certs.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey() error = %v", err)
	}
	otherVerifier := certs.NewLocalVerifier(&otherKey.PublicKey)

	_, verr := otherVerifier.Verify(result.Token)
	if verr == nil || verr.Kind != certs.InvalidSignature {
		t.Fatalf("Verify(wrong key) = %v, want InvalidSignature", verr)
	}
}

func TestRemoteVerifier_RevokedCertificateRejected(t *testing.T) {
	issuer, verifier, s := newKeyPair(t)
	seedAgent(t, s, models.AgentStatusActive)

	result, err := issuer.Issue(context.Background(), "dev-1", "bot-1", nil)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, _ := verifier.Verify(result.Token)

	if err := s.RevokeCertificate(context.Background(), claims.JTI); err != nil {
		t.Fatalf("RevokeCertificate() error = %v", err)
	}

	remote := certs.NewRemoteVerifier(verifier, s)
	_, verr := remote.Verify(context.Background(), result.Token)
	if verr == nil || verr.Kind != certs.Revoked {
		t.Fatalf("Verify(revoked) = %v, want Revoked", verr)
	}
}
