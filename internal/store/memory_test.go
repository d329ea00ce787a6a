package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agenttrust/station/internal/store"
	"github.com/agenttrust/station/pkg/models"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetDeveloper(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dev := &models.Developer{Name: "acme", Email: "a@acme.test", APIKeyHash: store.HashAPIKey("key-1")}
	if err := s.CreateDeveloper(ctx, dev); err != nil {
		t.Fatalf("CreateDeveloper() error = %v", err)
	}
	if dev.ID == "" {
		t.Fatal("CreateDeveloper() did not assign an ID")
	}

	got, err := s.GetDeveloperByAPIKeyHash(ctx, store.HashAPIKey("key-1"))
	if err != nil {
		t.Fatalf("GetDeveloperByAPIKeyHash() error = %v", err)
	}
	if got.ID != dev.ID {
		t.Errorf("got developer %s, want %s", got.ID, dev.ID)
	}
}

func TestCreateDeveloper_DuplicateKeyConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hash := store.HashAPIKey("dup-key")
	if err := s.CreateDeveloper(ctx, &models.Developer{Name: "one", APIKeyHash: hash}); err != nil {
		t.Fatalf("first CreateDeveloper() error = %v", err)
	}
	err := s.CreateDeveloper(ctx, &models.Developer{Name: "two", APIKeyHash: hash})
	if _, ok := err.(*store.ErrConflict); !ok {
		t.Fatalf("second CreateDeveloper() error = %v, want *ErrConflict", err)
	}
}

func TestCreateAndGetAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := &models.Agent{DeveloperID: "dev-1", ExternalID: "bot-1", Status: models.AgentStatusActive, CreatedAt: time.Now()}
	if err := s.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}

	got, err := s.GetAgent(ctx, "dev-1", "bot-1")
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if got.ID != agent.ID {
		t.Errorf("got agent %s, want %s", got.ID, agent.ID)
	}

	byID, err := s.GetAgentByID(ctx, agent.ID)
	if err != nil {
		t.Fatalf("GetAgentByID() error = %v", err)
	}
	if byID.ExternalID != "bot-1" {
		t.Errorf("GetAgentByID().ExternalID = %s, want bot-1", byID.ExternalID)
	}
}

func TestCreateAgent_DuplicateExternalIDConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateAgent(ctx, &models.Agent{DeveloperID: "dev-1", ExternalID: "bot-1"}); err != nil {
		t.Fatalf("first CreateAgent() error = %v", err)
	}
	err := s.CreateAgent(ctx, &models.Agent{DeveloperID: "dev-1", ExternalID: "bot-1"})
	if _, ok := err.(*store.ErrConflict); !ok {
		t.Fatalf("second CreateAgent() error = %v, want *ErrConflict", err)
	}
}

func TestGetAgent_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAgent(context.Background(), "dev-1", "missing")
	if _, ok := err.(*store.ErrNotFound); !ok {
		t.Fatalf("GetAgent() error = %v, want *ErrNotFound", err)
	}
}

func TestGetAgentByID_ReturnsIndependentCopy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateAgent(ctx, &models.Agent{DeveloperID: "dev-1", ExternalID: "bot-1", TotalActions: 1}); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	agent, err := s.GetAgent(ctx, "dev-1", "bot-1")
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}

	first, _ := s.GetAgentByID(ctx, agent.ID)
	first.TotalActions = 999

	second, _ := s.GetAgentByID(ctx, agent.ID)
	if second.TotalActions == 999 {
		t.Error("mutating a returned agent leaked into the store")
	}
}

func TestWithAgentLock_SerializesConcurrentIncrements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateAgent(ctx, &models.Agent{DeveloperID: "dev-1", ExternalID: "bot-1"}); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	agent, _ := s.GetAgent(ctx, "dev-1", "bot-1")

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			err := s.WithAgentLock(ctx, agent.ID, func(a *models.Agent) error {
				a.TotalActions++
				return s.UpdateAgent(ctx, a)
			})
			if err != nil {
				t.Errorf("WithAgentLock() error = %v", err)
			}
		}()
	}
	wg.Wait()

	final, _ := s.GetAgentByID(ctx, agent.ID)
	if final.TotalActions != n {
		t.Errorf("TotalActions = %d, want %d (lost update under concurrency)", final.TotalActions, n)
	}
}

func TestVouch_DuplicatePairConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateVouch(ctx, &models.Vouch{VoucherID: "a", VouchedID: "b", Weight: 1}); err != nil {
		t.Fatalf("first CreateVouch() error = %v", err)
	}
	err := s.CreateVouch(ctx, &models.Vouch{VoucherID: "a", VouchedID: "b", Weight: 3})
	if _, ok := err.(*store.ErrConflict); !ok {
		t.Fatalf("second CreateVouch() error = %v, want *ErrConflict", err)
	}

	count, err := s.CountVouchesReceived(ctx, "b")
	if err != nil {
		t.Fatalf("CountVouchesReceived() error = %v", err)
	}
	if count != 1 {
		t.Errorf("CountVouchesReceived() = %d, want 1", count)
	}
}

func TestCertificate_RevokeMarksRevoked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cert := &models.Certificate{JTI: "jti-1", AgentID: "agent-1", Score: 70, IssuedAt: time.Now(), ExpiresAt: time.Now().Add(time.Minute)}
	if err := s.CreateCertificate(ctx, cert); err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}

	if err := s.RevokeCertificate(ctx, "jti-1"); err != nil {
		t.Fatalf("RevokeCertificate() error = %v", err)
	}

	got, err := s.GetCertificate(ctx, "jti-1")
	if err != nil {
		t.Fatalf("GetCertificate() error = %v", err)
	}
	if !got.Revoked {
		t.Error("GetCertificate().Revoked = false, want true after RevokeCertificate")
	}
}

func TestRevokeCertificate_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.RevokeCertificate(context.Background(), "missing")
	if _, ok := err.(*store.ErrNotFound); !ok {
		t.Fatalf("RevokeCertificate() error = %v, want *ErrNotFound", err)
	}
}

func TestAppendActionLog_AssignsIDAndTimestamp(t *testing.T) {
	s := newTestStore(t)
	entry := &models.ActionLogEntry{AgentID: "agent-1", ActionType: "search", Decision: models.DecisionAllowed}
	if err := s.AppendActionLog(context.Background(), entry); err != nil {
		t.Fatalf("AppendActionLog() error = %v", err)
	}
	if entry.ID == "" {
		t.Error("AppendActionLog() did not assign an ID")
	}
	if entry.CreatedAt.IsZero() {
		t.Error("AppendActionLog() did not assign CreatedAt")
	}
}
