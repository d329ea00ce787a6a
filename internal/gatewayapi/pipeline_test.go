package gatewayapi_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agenttrust/station/internal/behavior"
	"github.com/agenttrust/station/internal/certs"
	"github.com/agenttrust/station/internal/gatewayapi"
	"github.com/agenttrust/station/internal/registry"
	"github.com/agenttrust/station/internal/store"
	"github.com/agenttrust/station/internal/threat"
	"github.com/agenttrust/station/pkg/models"
)

type testRig struct {
	router   http.Handler
	issuer   *certs.Issuer
	store    store.Store
	dev      *models.Developer
	agent    *models.Agent
	tracker  *behavior.Tracker
	reports  chan models.GatewayReport
}

func newRig(t *testing.T, behaviorCfg behavior.Config, mlEnabled bool, analyzer threat.Analyzer) *testRig {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	st := store.NewMemoryStore()
	issuer := certs.NewIssuer(st, key, 300)
	verifier := certs.NewLocalVerifier(&key.PublicKey)

	dev := &models.Developer{Name: "acme", Email: "a@acme.test", APIKeyHash: store.HashAPIKey("k")}
	if err := st.CreateDeveloper(context.Background(), dev); err != nil {
		t.Fatalf("create developer: %v", err)
	}
	agent := &models.Agent{DeveloperID: dev.ID, ExternalID: "agent-1", Status: models.AgentStatusActive, CreatedAt: time.Now().UTC()}
	if err := st.CreateAgent(context.Background(), agent); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	reg := registry.New()
	reg.Register(models.ActionDef{
		Name:     "search",
		MinScore: 30,
		Parameters: map[string]models.ParamSpec{
			"query": {Type: models.ParamString, Required: true},
		},
		Handler: func(ctx models.ActionContext, params map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"ok": true}, nil
		},
	})
	reg.Register(models.ActionDef{
		Name:     "order",
		MinScore: 60,
		Handler: func(ctx models.ActionContext, params map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"orderId": "o-1"}, nil
		},
	})

	if behaviorCfg.SessionTimeout == 0 {
		behaviorCfg.SessionTimeout = 5 * time.Minute
	}
	tracker := behavior.New(behaviorCfg, nil)

	reports := make(chan models.GatewayReport, 16)
	stationServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var report models.GatewayReport
		json.NewDecoder(r.Body).Decode(&report)
		reports <- report
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(stationServer.Close)

	var adapter *threat.Adapter
	if analyzer != nil {
		adapter = threat.NewAdapter(analyzer)
	} else {
		adapter = threat.NewAdapter(nil)
	}

	srv := &gatewayapi.Server{
		GatewayID: "gw-1",
		Verifier:  verifier,
		Registry:  reg,
		Tracker:   tracker,
		Threat:    adapter,
		Reporter:  gatewayapi.NewReporter(stationServer.URL, "station-key"),
		MLEnabled: mlEnabled,
	}

	return &testRig{
		router:  gatewayapi.NewRouter(srv),
		issuer:  issuer,
		store:   st,
		dev:     dev,
		agent:   agent,
		tracker: tracker,
		reports: reports,
	}
}

func (rig *testRig) issueToken(t *testing.T, scope []string) string {
	t.Helper()
	result, err := rig.issuer.Issue(context.Background(), rig.dev.ID, rig.agent.ExternalID, scope)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return result.Token
}

func postAction(router http.Handler, token, name string, params map[string]interface{}) *httptest.ResponseRecorder {
	body, _ := json.Marshal(map[string]interface{}{"params": params})
	req := httptest.NewRequest(http.MethodPost, "/actions/"+name, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleExecuteAction_HappyPath(t *testing.T) {
	rig := newRig(t, behavior.Config{ViolationPenalty: 10, BlockThreshold: 20}, false, nil)
	token := rig.issueToken(t, nil)

	rec := postAction(rig.router, token, "search", map[string]interface{}{"query": "widgets"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	select {
	case report := <-rig.reports:
		if report.Actions[0].Outcome != "success" {
			t.Fatalf("expected success outcome, got %+v", report.Actions[0])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a report dispatch")
	}
}

func TestHandleExecuteAction_SuccessWithAdvisory(t *testing.T) {
	// A second identical action within the window fires repeated_action at
	// full penalty (100 -> 90) without crossing the block threshold, so the
	// handler still succeeds but the response must carry a behavior
	// advisory as a sibling of data, not nested under it.
	cfg := behavior.Config{
		MaxActionsPerMinute:         30,
		MaxFailuresBeforeFlag:       5,
		MaxUniqueActionsPerMinute:   10,
		MaxRepeatedActionsPerMinute: 1,
		ViolationPenalty:            10,
		BlockThreshold:              0,
	}
	rig := newRig(t, cfg, false, nil)
	token := rig.issueToken(t, nil)

	postAction(rig.router, token, "search", map[string]interface{}{"query": "x"})
	<-rig.reports

	rec := postAction(rig.router, token, "search", map[string]interface{}{"query": "x"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
	<-rig.reports

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	data, ok := resp["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("data = %#v, want the handler's result map", resp["data"])
	}
	if data["ok"] != true {
		t.Fatalf("data should be the raw handler result, got %#v", data)
	}
	if _, nested := data["behavior"]; nested {
		t.Fatalf("behavior must be a sibling of data, not nested under it: %#v", resp)
	}
	if resp["behavior"] == nil {
		t.Fatalf("expected a top-level behavior advisory, got %#v", resp)
	}
}

func TestHandleExecuteAction_ScoreGateDenial(t *testing.T) {
	rig := newRig(t, behavior.Config{ViolationPenalty: 10, BlockThreshold: 20}, false, nil)
	token := rig.issueToken(t, nil) // fresh agent's base score is 50, order requires 60

	rec := postAction(rig.router, token, "order", map[string]interface{}{})
	if rec.Code == http.StatusOK {
		t.Fatalf("expected denial for insufficient score, got 200: %s", rec.Body.String())
	}
}

func TestHandleExecuteAction_UnknownCredential(t *testing.T) {
	rig := newRig(t, behavior.Config{ViolationPenalty: 10, BlockThreshold: 20}, false, nil)

	rec := postAction(rig.router, "garbage-token", "search", map[string]interface{}{"query": "x"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleExecuteAction_ScopeViolation(t *testing.T) {
	rig := newRig(t, behavior.Config{ViolationPenalty: 10, BlockThreshold: 20}, false, nil)
	token := rig.issueToken(t, []string{"search"})

	rec := postAction(rig.router, token, "order", map[string]interface{}{})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403, body = %s", rec.Code, rec.Body.String())
	}

	select {
	case report := <-rig.reports:
		if report.Actions[0].Metadata["reason"] != "scope_violation" {
			t.Fatalf("expected scope_violation reason, got %+v", report.Actions[0].Metadata)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a report dispatch for the scope violation")
	}
}

func TestHandleExecuteAction_UnknownAction(t *testing.T) {
	rig := newRig(t, behavior.Config{ViolationPenalty: 10, BlockThreshold: 20}, false, nil)
	token := rig.issueToken(t, nil)

	rec := postAction(rig.router, token, "nonexistent", map[string]interface{}{})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body = %s", rec.Code, rec.Body.String())
	}

	select {
	case report := <-rig.reports:
		if report.Actions[0].Metadata["reason"] != "unknown_action" {
			t.Fatalf("expected unknown_action reason, got %+v", report.Actions[0].Metadata)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a report dispatch for the unknown action")
	}
}

func TestHandleExecuteAction_BehavioralBlock(t *testing.T) {
	// Repeating the same fingerprint past the limit fires the
	// repeated_action flag at full penalty the first time and half
	// penalty on each recurrence: 100 -> 50 -> 25, which crosses a
	// block threshold of 40 on the third call.
	cfg := behavior.Config{
		MaxActionsPerMinute:         30,
		MaxFailuresBeforeFlag:       5,
		MaxUniqueActionsPerMinute:   10,
		MaxRepeatedActionsPerMinute: 1,
		ViolationPenalty:            50,
		BlockThreshold:              40,
	}
	rig := newRig(t, cfg, false, nil)
	token := rig.issueToken(t, nil)

	for i := 0; i < 3; i++ {
		postAction(rig.router, token, "search", map[string]interface{}{"query": "x"})
		<-rig.reports
	}

	rec := postAction(rig.router, token, "search", map[string]interface{}{"query": "x"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 once blocked, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleListActions_AndDiscovery(t *testing.T) {
	rig := newRig(t, behavior.Config{ViolationPenalty: 10, BlockThreshold: 20}, true, nil)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/agent-gateway", nil)
	rec := httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/actions", nil)
	rec2 := httptest.NewRecorder()
	rig.router.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("status = %d", rec2.Code)
	}
}
