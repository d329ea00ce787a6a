package certs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

type discoveryInfo struct {
	PublicKey string `json:"publicKey"`
	Algorithm string `json:"algorithm"`
	Issuer    string `json:"issuer"`
}

// FetchPublicKeyPEM retrieves the station's current signing public key from
// its discovery endpoint (spec §4.4).
func FetchPublicKeyPEM(ctx context.Context, stationURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, stationURL+"/.well-known/station-keys", nil)
	if err != nil {
		return "", err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch station public key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch station public key: unexpected status %d", resp.StatusCode)
	}

	var info discoveryInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode station public key response: %w", err)
	}
	return info.PublicKey, nil
}

// KeyRefresher periodically re-fetches the station public key and installs
// it into a LocalVerifier. Fetch failure at startup is fatal (spec §4.4:
// "fail-closed"); failure during periodic refresh is logged, the cached key
// stays in use.
type KeyRefresher struct {
	StationURL string
	Verifier   *LocalVerifier
	Interval   time.Duration
}

// FetchOnce fetches and installs the key, returning an error on failure —
// call this once at startup before serving traffic.
func (k *KeyRefresher) FetchOnce(ctx context.Context) error {
	pemStr, err := FetchPublicKeyPEM(ctx, k.StationURL)
	if err != nil {
		return err
	}
	key, err := ParsePublicKeyPEM(pemStr)
	if err != nil {
		return fmt.Errorf("parse fetched public key: %w", err)
	}
	k.Verifier.SetPublicKey(key)
	return nil
}

// Start runs the periodic refresh loop until ctx is canceled.
func (k *KeyRefresher) Start(ctx context.Context) {
	interval := k.Interval
	if interval <= 0 {
		interval = 3600 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := k.FetchOnce(ctx); err != nil {
				log.Warn().Err(err).Msg("station public key refresh failed, keeping cached key")
			} else {
				log.Info().Msg("station public key refreshed")
			}
		}
	}
}
