package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lexiqai/voice-bridge/internal/config"
	"github.com/lexiqai/voice-bridge/internal/observability"
	"github.com/lexiqai/voice-bridge/internal/resilience"
	"github.com/rs/zerolog"
)

const (
	clientSecretsPath = "/v1/realtime/client_secrets"
	callsPath         = "/v1/realtime/calls"

	// Error bodies are truncated to this many bytes in returned errors
	maxErrorBody = 512
)

// ErrSignaling marks a failed credential or description exchange
var ErrSignaling = errors.New("signaling failed")

// SessionConfig is the AI session configuration sent with the credential request
type SessionConfig struct {
	Model        string
	Voice        string
	Instructions string
}

// clientSecretRequest is the body of a client_secrets request
type clientSecretRequest struct {
	Session sessionBody `json:"session"`
}

type sessionBody struct {
	Type         string     `json:"type"`
	Model        string     `json:"model"`
	Instructions string     `json:"instructions,omitempty"`
	Audio        *audioBody `json:"audio,omitempty"`
}

type audioBody struct {
	Output audioOutput `json:"output"`
}

type audioOutput struct {
	Voice string `json:"voice"`
}

// clientSecretResponse is the ephemeral credential returned by the endpoint
type clientSecretResponse struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

// SignalingClient performs the two HTTP exchanges that precede media flow:
// acquiring an ephemeral credential and trading SDP offer for answer.
type SignalingClient struct {
	baseURL    string
	apiKey     string
	session    SessionConfig
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     zerolog.Logger
}

// NewSignalingClient creates a signaling client from configuration
func NewSignalingClient(cfg *config.Config) *SignalingClient {
	breaker := resilience.NewCircuitBreaker(
		"realtime_signaling",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	breaker.Observe(func(name string, state resilience.CircuitState, failed bool) {
		observability.UpdateCircuitBreakerState(name, int(state))
		if failed {
			observability.IncrementCircuitBreakerFailures(name)
		}
	})

	return &SignalingClient{
		baseURL: strings.TrimRight(cfg.RealtimeBaseURL, "/"),
		apiKey:  cfg.RealtimeAPIKey,
		session: SessionConfig{
			Model:        cfg.RealtimeModel,
			Voice:        cfg.RealtimeVoice,
			Instructions: cfg.RealtimeInstructions,
		},
		httpClient: &http.Client{Timeout: cfg.SignalingHTTPTimeoutDuration()},
		breaker:    breaker,
		logger:     observability.GetLogger().With().Str("component", "signaling").Logger(),
	}
}

// Breaker exposes the circuit breaker guarding the signaling endpoint
func (c *SignalingClient) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// AcquireCredential obtains a short-lived credential for one session
func (c *SignalingClient) AcquireCredential(ctx context.Context) (string, error) {
	reqBody := clientSecretRequest{
		Session: sessionBody{
			Type:         "realtime",
			Model:        c.session.Model,
			Instructions: c.session.Instructions,
		},
	}
	if c.session.Voice != "" {
		reqBody.Session.Audio = &audioBody{Output: audioOutput{Voice: c.session.Voice}}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to encode credential request: %w", err)
	}

	var token string
	err = c.breaker.Call(func() error {
		body, err := c.post(ctx, clientSecretsPath, "application/json", c.apiKey, payload)
		if err != nil {
			return err
		}

		var resp clientSecretResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("%w: invalid credential response: %v", ErrSignaling, err)
		}
		if resp.Value == "" {
			return fmt.Errorf("%w: empty credential in response", ErrSignaling)
		}

		token = resp.Value
		c.logger.Debug().
			Int64("expires_at", resp.ExpiresAt).
			Msg("Acquired ephemeral credential")
		return nil
	})
	if err != nil {
		return "", err
	}

	return token, nil
}

// ExchangeDescription posts the local SDP offer and returns the remote answer
func (c *SignalingClient) ExchangeDescription(ctx context.Context, localSDP, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: missing credential", ErrSignaling)
	}

	var answer string
	err := c.breaker.Call(func() error {
		body, err := c.post(ctx, callsPath, "application/sdp", token, []byte(localSDP))
		if err != nil {
			return err
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return fmt.Errorf("%w: empty answer", ErrSignaling)
		}
		answer = string(body)
		return nil
	})
	if err != nil {
		return "", err
	}

	return answer, nil
}

// post sends one bearer-authenticated request and returns the 2xx body
func (c *SignalingClient) post(ctx context.Context, path, contentType, bearer string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSignaling, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrSignaling, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, fmt.Errorf("%w: %s returned %s: %s", ErrSignaling, path, resp.Status, string(body))
	}

	return body, nil
}
