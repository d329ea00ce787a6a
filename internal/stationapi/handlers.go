package stationapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/agenttrust/station/internal/apierr"
	"github.com/agenttrust/station/internal/certs"
	"github.com/agenttrust/station/internal/httpmw"
	"github.com/agenttrust/station/internal/reputation"
	"github.com/agenttrust/station/internal/store"
	"github.com/agenttrust/station/pkg/models"
	"github.com/go-chi/chi/v5"
)

// ── Discovery ──────────────────────────────────────────────────

func (s *Server) handleStationKeys(w http.ResponseWriter, r *http.Request) {
	body, err := certs.MarshalDiscoveryInfo(s.PublicKeyPEM)
	if err != nil {
		apierr.WriteError(w, apierr.New(apierr.Internal, "failed to marshal discovery info"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (s *Server) handleStationInfo(w http.ResponseWriter, r *http.Request) {
	apierr.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"service":                  s.ServiceName,
		"version":                  "0.1.0",
		"issuer":                   models.StationIssuer,
		"certificateExpirySeconds": s.CertExpirySeconds,
	})
}

// ── Developer registration ────────────────────────────────────

type registerDeveloperRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (s *Server) handleRegisterDeveloper(w http.ResponseWriter, r *http.Request) {
	var req registerDeveloperRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.New(apierr.BadRequest, "malformed request body"))
		return
	}
	if req.Name == "" || req.Email == "" {
		apierr.WriteError(w, apierr.New(apierr.BadRequest, "name and email are required"))
		return
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		apierr.WriteError(w, apierr.New(apierr.Internal, "failed to generate api key"))
		return
	}

	dev := &models.Developer{
		Name:       req.Name,
		Email:      req.Email,
		APIKeyHash: store.HashAPIKey(apiKey),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.Store.CreateDeveloper(r.Context(), dev); err != nil {
		if _, ok := err.(*store.ErrConflict); ok {
			apierr.WriteError(w, apierr.New(apierr.Conflict, "developer already registered"))
			return
		}
		apierr.WriteError(w, apierr.New(apierr.Internal, "failed to register developer"))
		return
	}

	apierr.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"developerId": dev.ID,
		"apiKey":      apiKey,
	})
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "atk_" + hex.EncodeToString(buf), nil
}

// ── Agent registration ────────────────────────────────────────

type registerAgentRequest struct {
	ExternalID       string  `json:"externalId"`
	IdentityVerified bool    `json:"identityVerified"`
	StakeAmount      float64 `json:"stakeAmount"`
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	dev := httpmw.GetDeveloper(r.Context())

	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.New(apierr.BadRequest, "malformed request body"))
		return
	}
	if req.ExternalID == "" {
		apierr.WriteError(w, apierr.New(apierr.BadRequest, "externalId is required"))
		return
	}

	now := time.Now().UTC()
	agent := &models.Agent{
		DeveloperID:      dev.ID,
		ExternalID:       req.ExternalID,
		IdentityVerified: req.IdentityVerified,
		StakeAmount:      req.StakeAmount,
		Status:           models.AgentStatusActive,
		CreatedAt:        now,
		ReputationScore:  reputation.Score(reputation.Input{IdentityVerified: req.IdentityVerified, StakeAmount: req.StakeAmount, CreatedAt: now}),
	}
	if err := s.Store.CreateAgent(r.Context(), agent); err != nil {
		if _, ok := err.(*store.ErrConflict); ok {
			apierr.WriteError(w, apierr.New(apierr.Conflict, "agent already registered: "+req.ExternalID))
			return
		}
		apierr.WriteError(w, apierr.New(apierr.Internal, "failed to register agent"))
		return
	}

	apierr.WriteJSON(w, http.StatusCreated, agent)
}

// ── Certificate issuance ──────────────────────────────────────

type requestCertificateRequest struct {
	AgentID string   `json:"agentId"`
	Scope   []string `json:"scope,omitempty"`
}

func (s *Server) handleRequestCertificate(w http.ResponseWriter, r *http.Request) {
	dev := httpmw.GetDeveloper(r.Context())

	var req requestCertificateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.New(apierr.BadRequest, "malformed request body"))
		return
	}
	if req.AgentID == "" {
		apierr.WriteError(w, apierr.New(apierr.BadRequest, "agentId is required"))
		return
	}

	result, err := s.Issuer.Issue(r.Context(), dev.ID, req.AgentID, req.Scope)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	apierr.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"token":     result.Token,
		"expiresAt": result.ExpiresAt,
		"score":     result.Score,
	})
}

// ── Certificate verification (remote path) ────────────────────

func (s *Server) handleVerifyCertificate(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	claims, verr := s.RemoteVerifier.Verify(r.Context(), token)
	if verr != nil {
		apierr.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"valid":  false,
			"reason": verr.Message,
		})
		return
	}

	apierr.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"valid":   true,
		"payload": claims,
	})
}

// ── Pre-action verify ─────────────────────────────────────────

type preActionVerifyRequest struct {
	AgentID    string                 `json:"agentId"`
	ActionType string                 `json:"actionType"`
	Threshold  *int                   `json:"threshold,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

func (s *Server) handlePreActionVerify(w http.ResponseWriter, r *http.Request) {
	dev := httpmw.GetDeveloper(r.Context())

	var req preActionVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.New(apierr.BadRequest, "malformed request body"))
		return
	}
	if req.AgentID == "" || req.ActionType == "" {
		apierr.WriteError(w, apierr.New(apierr.BadRequest, "agentId and actionType are required"))
		return
	}

	agent, err := s.Store.GetAgent(r.Context(), dev.ID, req.AgentID)
	if err != nil {
		apierr.WriteError(w, apierr.New(apierr.NotFound, "agent not found: "+req.AgentID))
		return
	}

	vouchCount, err := s.Store.CountVouchesReceived(r.Context(), agent.ID)
	if err != nil {
		apierr.WriteError(w, apierr.New(apierr.Internal, "vouch lookup failed"))
		return
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

	threshold := 0
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	allowed := agent.Status == models.AgentStatusActive && score >= threshold
	reason := "ok"
	decision := models.DecisionAllowed
	if agent.Status != models.AgentStatusActive {
		allowed = false
		reason = "agent status is " + string(agent.Status)
		decision = models.DecisionDenied
	} else if score < threshold {
		reason = "score below threshold"
		decision = models.DecisionDenied
	}

	entry := &models.ActionLogEntry{
		AgentID:    agent.ID,
		ActionType: req.ActionType,
		Decision:   decision,
		Reason:     reason,
		Metadata:   req.Context,
	}
	if err := s.Store.AppendActionLog(r.Context(), entry); err != nil {
		apierr.WriteError(w, apierr.New(apierr.Internal, "failed to log action"))
		return
	}

	apierr.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"allowed":  allowed,
		"score":    score,
		"reason":   reason,
		"actionId": entry.ID,
	})
}

// ── Single-action report ──────────────────────────────────────

type reportRequest struct {
	ActionID string `json:"actionId"`
	Outcome  string `json:"outcome"`
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.New(apierr.BadRequest, "malformed request body"))
		return
	}
	if req.ActionID == "" || (req.Outcome != "success" && req.Outcome != "failure") {
		apierr.WriteError(w, apierr.New(apierr.BadRequest, "actionId and outcome (success|failure) are required"))
		return
	}

	entry, err := s.Store.GetActionLogEntry(r.Context(), req.ActionID)
	if err != nil {
		apierr.WriteError(w, apierr.New(apierr.NotFound, "action not found: "+req.ActionID))
		return
	}

	newScore, err := applyOutcome(r.Context(), s.Store, entry.AgentID, req.Outcome == "success")
	if err != nil {
		apierr.WriteError(w, apierr.New(apierr.Internal, "failed to apply outcome"))
		return
	}

	apierr.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"actionId":           entry.ID,
		"newReputationScore": newScore,
	})
}

// ── Gateway batch report ingestion (spec §4.8) ────────────────

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	var report models.GatewayReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		apierr.WriteError(w, apierr.New(apierr.BadRequest, "malformed request body"))
		return
	}
	if report.AgentID == "" || report.CertificateJTI == "" {
		apierr.WriteError(w, apierr.New(apierr.BadRequest, "agentId and certificateJti are required"))
		return
	}

	agent, err := s.Store.GetAgentByID(r.Context(), report.AgentID)
	if err != nil {
		apierr.WriteError(w, apierr.New(apierr.NotFound, "agent not found: "+report.AgentID))
		return
	}
	cert, err := s.Store.GetCertificate(r.Context(), report.CertificateJTI)
	if err != nil || cert.AgentID != agent.ID {
		apierr.WriteError(w, apierr.New(apierr.NotFound, "certificate not found for agent"))
		return
	}

	successCount, failureCount := 0, 0
	for _, item := range report.Actions {
		success := item.Outcome == "success"
		if success {
			successCount++
		} else {
			failureCount++
		}

		if err := s.Store.AppendActionLog(r.Context(), &models.ActionLogEntry{
			AgentID:    agent.ID,
			ActionType: item.ActionType,
			Decision:   models.DecisionAllowed,
			Reason:     "reported by gateway " + report.GatewayID,
			Metadata:   item.Metadata,
			CreatedAt:  item.PerformedAt,
		}); err != nil {
			apierr.WriteError(w, apierr.New(apierr.Internal, "failed to log action"))
			return
		}

		if _, err := applyOutcome(r.Context(), s.Store, agent.ID, success); err != nil {
			apierr.WriteError(w, apierr.New(apierr.Internal, "failed to apply outcome"))
			return
		}
	}

	if err := s.Store.AppendGatewayReport(r.Context(), &report); err != nil {
		apierr.WriteError(w, apierr.New(apierr.Internal, "failed to persist gateway report"))
		return
	}

	final, err := s.Store.GetAgentByID(r.Context(), agent.ID)
	if err != nil {
		apierr.WriteError(w, apierr.New(apierr.Internal, "failed to reload agent"))
		return
	}

	apierr.WriteJSON(w, http.StatusOK, models.GatewayReportSummary{
		AgentID:            agent.ID,
		ActionsProcessed:   len(report.Actions),
		SuccessCount:       successCount,
		FailureCount:       failureCount,
		NewReputationScore: final.ReputationScore,
	})
}

// applyOutcome increments an agent's counters for one action outcome,
// appends the corresponding reputation event, and recomputes the cached
// score — all under the per-agent lock (spec §4.1, §4.8, §5).
func applyOutcome(ctx context.Context, st store.Store, agentID string, success bool) (int, error) {
	var newScore int
	err := st.WithAgentLock(ctx, agentID, func(agent *models.Agent) error {
		agent.TotalActions++
		eventType := models.EventFailure
		scoreChange := -5
		if success {
			agent.SuccessfulActions++
			eventType = models.EventSuccess
			scoreChange = 0
		} else {
			agent.FailedActions++
		}

		vouchCount, err := st.CountVouchesReceived(ctx, agent.ID)
		if err != nil {
			return err
		}
		newScore = reputation.Score(reputation.Input{
			IdentityVerified:     agent.IdentityVerified,
			StakeAmount:          agent.StakeAmount,
			VouchesReceivedCount: vouchCount,
			TotalActions:         agent.TotalActions,
			SuccessfulActions:    agent.SuccessfulActions,
			FailedActions:        agent.FailedActions,
			CreatedAt:            agent.CreatedAt,
		})
		agent.ReputationScore = newScore

		if err := st.AppendReputationEvent(ctx, &models.ReputationEvent{
			AgentID:     agent.ID,
			EventType:   eventType,
			ScoreChange: scoreChange,
		}); err != nil {
			return err
		}
		return st.UpdateAgent(ctx, agent)
	})
	return newScore, err
}

// ── Reputation breakdown ──────────────────────────────────────

func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	dev := httpmw.GetDeveloper(r.Context())
	externalID := chi.URLParam(r, "externalId")

	agent, err := s.Store.GetAgent(r.Context(), dev.ID, externalID)
	if err != nil {
		apierr.WriteError(w, apierr.New(apierr.NotFound, "agent not found: "+externalID))
		return
	}
	vouchCount, err := s.Store.CountVouchesReceived(r.Context(), agent.ID)
	if err != nil {
		apierr.WriteError(w, apierr.New(apierr.Internal, "vouch lookup failed"))
		return
	}

	breakdown := reputation.Compute(reputation.Input{
		IdentityVerified:     agent.IdentityVerified,
		StakeAmount:          agent.StakeAmount,
		VouchesReceivedCount: vouchCount,
		TotalActions:         agent.TotalActions,
		SuccessfulActions:    agent.SuccessfulActions,
		FailedActions:        agent.FailedActions,
		CreatedAt:            agent.CreatedAt,
	})

	apierr.WriteJSON(w, http.StatusOK, models.ReputationBreakdown{
		Score:            breakdown.Score,
		Base:             breakdown.Base,
		IdentityBonus:    breakdown.IdentityBonus,
		StakeBonus:       breakdown.StakeBonus,
		VouchBonus:       breakdown.VouchBonus,
		SuccessRateBonus: breakdown.SuccessRateBonus,
		AgeBonus:         breakdown.AgeBonus,
		FailurePenalty:   breakdown.FailurePenalty,
		VouchesReceived:  vouchCount,
	})
}
