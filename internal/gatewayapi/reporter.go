package gatewayapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/agenttrust/station/pkg/models"
	"github.com/rs/zerolog/log"
)

// Reporter submits gateway reports to the station, fire-and-forget (spec
// §4.7 step 9, §5: "non-blocking"). Failures are logged, never surfaced to
// the calling request.
type Reporter struct {
	client     *http.Client
	stationURL string
	apiKey     string
}

// NewReporter builds a Reporter posting to stationURL with the given
// developer API key.
func NewReporter(stationURL, apiKey string) *Reporter {
	return &Reporter{
		client:     &http.Client{Timeout: 10 * time.Second},
		stationURL: stationURL,
		apiKey:     apiKey,
	}
}

// Dispatch posts report in its own goroutine with its own timeout,
// independent of the calling request's lifetime.
func (rp *Reporter) Dispatch(report models.GatewayReport) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := rp.send(ctx, report); err != nil {
			log.Warn().Err(err).Str("agentId", report.AgentID).Msg("gateway report dispatch failed")
		}
	}()
}

func (rp *Reporter) send(ctx context.Context, report models.GatewayReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rp.stationURL+"/reports", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+rp.apiKey)

	resp, err := rp.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}
