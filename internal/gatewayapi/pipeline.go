// Package gatewayapi implements the gateway's request pipeline (spec §4.7)
// and HTTP surface (spec §6): certificate verification, live-block and
// scope checks, the optional ML threat check, action execution via the
// registry, behavior recording, and fire-and-forget report dispatch.
package gatewayapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/agenttrust/station/internal/apierr"
	"github.com/agenttrust/station/internal/behavior"
	"github.com/agenttrust/station/internal/certs"
	"github.com/agenttrust/station/internal/registry"
	"github.com/agenttrust/station/internal/threat"
	"github.com/agenttrust/station/pkg/models"
	"github.com/go-chi/chi/v5"
)

// Server bundles the dependencies the gateway's pipeline and handlers need.
type Server struct {
	GatewayID  string
	Verifier   *certs.LocalVerifier
	Registry   *registry.Registry
	Tracker    *behavior.Tracker
	Threat     *threat.Adapter
	Reporter   *Reporter
	MLEnabled  bool
}

// extractCredential reads the bearer token from Authorization or the
// gateway-specific X-Agent-Certificate header (spec §4.7 step 1).
func extractCredential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-Agent-Certificate")
}

func verifyKindToAPIErr(kind certs.VerifyKind, message string) *apierr.Error {
	switch kind {
	case certs.MissingCredential:
		return apierr.New(apierr.Unauthenticated, message)
	case certs.Expired:
		return apierr.New(apierr.CertExpired, message)
	case certs.AgentDisabled:
		return apierr.New(apierr.Forbidden, message)
	default:
		return apierr.New(apierr.CertInvalid, message)
	}
}

type executeActionRequest struct {
	Params map[string]interface{} `json:"params"`
}

// handleExecuteAction implements the full ten-step pipeline from spec §4.7.
func (s *Server) handleExecuteAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	// Step 1-2: extract + verify credential.
	token := extractCredential(r)
	claims, verr := s.Verifier.Verify(token)
	if verr != nil {
		apierr.WriteError(w, verifyKindToAPIErr(verr.Kind, verr.Message))
		return
	}

	var req executeActionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Params == nil {
		req.Params = map[string]interface{}{}
	}

	// Step 3: live-block check.
	if s.Tracker.IsBlocked(claims.Subject) {
		s.Reporter.Dispatch(models.GatewayReport{
			AgentID:        claims.Subject,
			GatewayID:      s.GatewayID,
			CertificateJTI: claims.JTI,
			Actions: []models.GatewayReportAction{{
				ActionType:  name,
				Outcome:     "failure",
				Metadata:    map[string]interface{}{"reason": "behavioral_block"},
				PerformedAt: time.Now().UTC(),
			}},
		})
		apierr.WriteError(w, apierr.New(apierr.Forbidden, "blocked mid-session"))
		return
	}

	// Step 4: action existence.
	def, ok := s.Registry.Get(name)
	if !ok {
		s.Tracker.RecordAction(claims.Subject, claims.AgentExternalID, name, req.Params, false, true)
		s.Reporter.Dispatch(models.GatewayReport{
			AgentID:        claims.Subject,
			GatewayID:      s.GatewayID,
			CertificateJTI: claims.JTI,
			Actions: []models.GatewayReportAction{{
				ActionType:  name,
				Outcome:     "failure",
				Metadata:    map[string]interface{}{"reason": "unknown_action"},
				PerformedAt: time.Now().UTC(),
			}},
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   "unknown action: " + name,
			"data":    map[string]interface{}{"availableActions": s.Registry.Names()},
		})
		return
	}

	// Step 5: scope check.
	if len(claims.Scope) > 0 && !contains(claims.Scope, name) {
		result := s.Tracker.RecordScopeViolation(claims.Subject, claims.AgentExternalID)
		s.Reporter.Dispatch(models.GatewayReport{
			AgentID:        claims.Subject,
			GatewayID:      s.GatewayID,
			CertificateJTI: claims.JTI,
			Actions: []models.GatewayReportAction{{
				ActionType:  name,
				Outcome:     "failure",
				Metadata:    map[string]interface{}{"reason": "scope_violation"},
				PerformedAt: time.Now().UTC(),
			}},
		})
		writeDenyWithAdvisory(w, apierr.New(apierr.Forbidden, "action not in certificate scope: "+name), result)
		return
	}

	// Step 6: optional ML threat check.
	if s.MLEnabled {
		if report := s.Threat.Analyze(r.Context(), req.Params, claims.Subject); !report.Safe {
			s.Tracker.RecordAction(claims.Subject, claims.AgentExternalID, name, req.Params, false, true)
			s.Reporter.Dispatch(models.GatewayReport{
				AgentID:        claims.Subject,
				GatewayID:      s.GatewayID,
				CertificateJTI: claims.JTI,
				Actions: []models.GatewayReportAction{{
					ActionType:  name,
					Outcome:     "failure",
					Metadata:    map[string]interface{}{"reason": "ml_threat_detected", "threats": report.Threats},
					PerformedAt: time.Now().UTC(),
				}},
			})
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": false,
				"error":   "threat detected in action parameters",
				"threats": report.Threats,
			})
			return
		}
	}

	// Step 7: score gate, validation, execution.
	scoreMet := claims.Score >= def.MinScore
	result := s.Registry.Execute(name, req.Params, models.ActionContext{
		AgentID:         claims.Subject,
		AgentExternalID: claims.AgentExternalID,
		Score:           claims.Score,
	})

	// Step 8: behavior record.
	behaviorResult := s.Tracker.RecordAction(claims.Subject, claims.AgentExternalID, name, req.Params, result.Success, scoreMet)

	// Step 9: fire-and-forget report dispatch.
	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	s.Reporter.Dispatch(models.GatewayReport{
		AgentID:        claims.Subject,
		GatewayID:      s.GatewayID,
		CertificateJTI: claims.JTI,
		Actions: []models.GatewayReportAction{{
			ActionType: name,
			Outcome:    outcome,
			Metadata: map[string]interface{}{
				"params":        req.Params,
				"behaviorScore": behaviorResult.BehaviorScore,
				"flags":         behaviorResult.NewFlags,
				"blocked":       behaviorResult.BlockedNow,
			},
			PerformedAt: time.Now().UTC(),
		}},
	})

	// Step 10: response shaping.
	if behaviorResult.BlockedNow {
		writeDenyWithAdvisory(w, apierr.New(apierr.Forbidden, "blocked mid-session"), behaviorResult)
		return
	}
	if !result.Success {
		writeDenyWithAdvisory(w, apierr.New(apierr.Forbidden, result.Error), behaviorResult)
		return
	}

	if advisory := buildAdvisory(behaviorResult); advisory != nil {
		apierr.WriteJSONWithBehavior(w, http.StatusOK, result.Data, advisory)
		return
	}
	apierr.WriteJSON(w, http.StatusOK, result.Data)
}

// buildAdvisory attaches a behavior advisory when the score dipped below 80
// or any flag fired this request (spec §4.7 step 10).
func buildAdvisory(result behavior.RecordResult) *models.BehaviorAdvisory {
	if result.BehaviorScore >= 80 && len(result.NewFlags) == 0 {
		return nil
	}
	warning := "mild behavioral anomaly detected"
	if result.BehaviorScore < 50 {
		warning = "severe behavioral anomaly detected"
	}
	return &models.BehaviorAdvisory{
		Score:   result.BehaviorScore,
		Flags:   result.NewFlags,
		Warning: warning,
	}
}

func writeDenyWithAdvisory(w http.ResponseWriter, err *apierr.Error, result behavior.RecordResult) {
	apierr.WriteErrorWithBehavior(w, err, buildAdvisory(result))
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
