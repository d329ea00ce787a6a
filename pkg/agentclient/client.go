// Package agentclient implements the agent-side client (spec §4.10): token
// caching with a refresh buffer, scope tracking, and a single forced-refresh
// retry on a gateway's 401.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// refreshBuffer is the minimum remaining lifetime acquire() requires of a
// cached token before reusing it (spec §4.10: "now + 30000ms < expiresAt").
const refreshBuffer = 30 * time.Second

// Client acquires and caches certificates from a station, and executes
// actions against a gateway, presenting the cached certificate.
type Client struct {
	httpClient  *http.Client
	stationURL  string
	developerID string
	apiKey      string
	agentID     string

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	scope     []string // nil == wildcard
}

// New builds a Client for agentID, authenticating to the station with
// apiKey.
func New(stationURL, apiKey, agentID string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		stationURL: stationURL,
		apiKey:     apiKey,
		agentID:    agentID,
	}
}

// ScopeWildcard, when passed to Acquire as requestedScope, clears the
// current scope to the wildcard rather than leaving it unchanged (spec
// §4.10 scope semantics: nil means "unchanged", this sentinel means "clear
// to wildcard").
var ScopeWildcard = []string{}

// SetScope replaces the client's current scope vector. If it differs from
// the cached scope, the cached token is invalidated so the next acquire
// fetches a certificate carrying the new scope.
func (c *Client) SetScope(scope []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if scopeEqual(c.scope, scope) {
		return
	}
	c.scope = scope
	c.token = ""
	c.expiresAt = time.Time{}
}

func scopeEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type certificateResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
		Score     int       `json:"score"`
	} `json:"data"`
	Error string `json:"error"`
}

// Acquire returns a usable certificate token, reusing the cached one when it
// has at least refreshBuffer left, the requested scope matches the cached
// scope, and forceRefresh is false; otherwise it fetches a fresh one (spec
// §4.10). Pass nil as requestedScope to keep the current scope, or
// ScopeWildcard to clear it. Unlike Acquire, SetScope(nil) sets the scope to
// the wildcard.
func (c *Client) Acquire(ctx context.Context, forceRefresh bool, requestedScope []string) (string, error) {
	c.mu.Lock()
	if requestedScope != nil && !scopeEqual(c.scope, requestedScope) {
		c.scope = requestedScope
		c.token = ""
		c.expiresAt = time.Time{}
	}

	if !forceRefresh && c.token != "" && time.Now().Add(refreshBuffer).Before(c.expiresAt) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	scope := c.scope
	c.mu.Unlock()

	token, expiresAt, err := c.fetchCertificate(ctx, scope)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.token = token
	c.expiresAt = expiresAt
	c.mu.Unlock()

	return token, nil
}

func (c *Client) fetchCertificate(ctx context.Context, scope []string) (string, time.Time, error) {
	body, err := json.Marshal(map[string]interface{}{
		"agentId": c.agentID,
		"scope":   scope,
	})
	if err != nil {
		return "", time.Time{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.stationURL+"/certificates/request", bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("request certificate: %w", err)
	}
	defer resp.Body.Close()

	var parsed certificateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", time.Time{}, fmt.Errorf("decode certificate response: %w", err)
	}
	if !parsed.Success {
		return "", time.Time{}, fmt.Errorf("certificate request failed: %s", parsed.Error)
	}
	return parsed.Data.Token, parsed.Data.ExpiresAt, nil
}

// ActionResult is the outcome of one action execution.
type ActionResult struct {
	Success    bool
	Data       interface{}
	Error      string
	StatusCode int
}

type actionEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// ExecuteAction posts params to gatewayURL/actions/{name}, retrying exactly
// once with a forced token refresh on a 401 (spec §4.10).
func (c *Client) ExecuteAction(ctx context.Context, gatewayURL, name string, params map[string]interface{}) (ActionResult, error) {
	result, status, err := c.doExecute(ctx, gatewayURL, name, params, false)
	if err != nil {
		return ActionResult{}, err
	}
	if status != http.StatusUnauthorized {
		result.StatusCode = status
		return result, nil
	}

	log.Debug().Str("action", name).Msg("gateway returned 401, retrying with forced refresh")
	result, status, err = c.doExecute(ctx, gatewayURL, name, params, true)
	if err != nil {
		return ActionResult{}, err
	}
	result.StatusCode = status
	return result, nil
}

func (c *Client) doExecute(ctx context.Context, gatewayURL, name string, params map[string]interface{}, forceRefresh bool) (ActionResult, int, error) {
	token, err := c.Acquire(ctx, forceRefresh, nil)
	if err != nil {
		return ActionResult{}, 0, err
	}

	body, err := json.Marshal(map[string]interface{}{"params": params})
	if err != nil {
		return ActionResult{}, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gatewayURL+"/actions/"+name, bytes.NewReader(body))
	if err != nil {
		return ActionResult{}, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ActionResult{}, 0, fmt.Errorf("execute action: %w", err)
	}
	defer resp.Body.Close()

	var env actionEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return ActionResult{}, resp.StatusCode, fmt.Errorf("decode action response: %w", err)
	}

	var data interface{}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return ActionResult{}, resp.StatusCode, err
		}
	}
	return ActionResult{Success: env.Success, Data: data, Error: env.Error}, resp.StatusCode, nil
}

// BatchItem is one entry in a batch of actions to execute sequentially.
type BatchItem struct {
	Name   string
	Params map[string]interface{}
}

// ExecuteBatch runs items sequentially against gatewayURL, halting on the
// first failure (spec §4.10).
func (c *Client) ExecuteBatch(ctx context.Context, gatewayURL string, items []BatchItem) ([]ActionResult, error) {
	results := make([]ActionResult, 0, len(items))
	for _, item := range items {
		result, err := c.ExecuteAction(ctx, gatewayURL, item.Name, item.Params)
		if err != nil {
			return results, err
		}
		results = append(results, result)
		if !result.Success {
			break
		}
	}
	return results, nil
}
