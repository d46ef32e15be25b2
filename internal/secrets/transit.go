package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const maxTransitResponse = 1 << 20 // 1 MB

// TransitClient is the HTTP Resolver backed by the platform's transit
// encryption service. It performs no caching and no retries; wrap it in a
// Breaker (or a caller-supplied retry layer) for resilience.
type TransitClient struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger
}

// NewTransitClient creates a client for the transit service at baseURL.
// token, when non-empty, is sent as the X-Vault-Token header.
func NewTransitClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *TransitClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransitClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type encryptRequest struct {
	FieldToEncrypt string `json:"fieldToEncrypt"`
}

type encryptResponse struct {
	VaultKey string `json:"vaultKey"`
}

type decryptRequest struct {
	FieldToDecrypt string `json:"fieldToDecrypt"`
}

type decryptResponse struct {
	DecryptedData string `json:"decryptedData"`
}

// Encrypt resolves plaintext to an opaque vault key.
func (c *TransitClient) Encrypt(ctx context.Context, plaintext string) (string, error) {
	var resp encryptResponse
	if err := c.post(ctx, "/transit/encrypt", encryptRequest{FieldToEncrypt: plaintext}, &resp); err != nil {
		return "", resolutionErr("encrypt", plaintext, err)
	}
	if resp.VaultKey == "" {
		return "", resolutionErr("encrypt", plaintext, fmt.Errorf("%w: empty vaultKey", ErrInvalidToken))
	}
	return resp.VaultKey, nil
}

// Decrypt resolves an opaque vault key back to plaintext.
func (c *TransitClient) Decrypt(ctx context.Context, token string) (string, error) {
	var resp decryptResponse
	if err := c.post(ctx, "/transit/decrypt", decryptRequest{FieldToDecrypt: token}, &resp); err != nil {
		return "", resolutionErr("decrypt", token, err)
	}
	if resp.DecryptedData == "" {
		return "", resolutionErr("decrypt", token, fmt.Errorf("%w: empty decryptedData", ErrInvalidToken))
	}
	return resp.DecryptedData, nil
}

func (c *TransitClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("X-Vault-Token", c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTransitResponse))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through to decode
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		c.logger.Debug("transit rejected request",
			zap.String("path", path), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: status %d", ErrInvalidToken, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrInvalidToken, err)
	}
	return nil
}
