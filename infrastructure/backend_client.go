package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stakemesh/wallet-client/models"
	"stakemesh/wallet-client/service"
)

// BackendClient talks to the ledger service over REST. HTTP 429 maps to
// the rate-limited error, transport failures and 5xx to the transient
// class, and auth rejections to verification failure, so callers branch
// on the typed taxonomy instead of status codes.
type BackendClient struct {
	baseURL string
	http    *http.Client
}

// NewBackendClient creates a backend client for the given base URL.
func NewBackendClient(baseURL string) *BackendClient {
	return &BackendClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Nonce requests a single-use challenge message for the identity.
func (c *BackendClient) Nonce(ctx context.Context, identity models.Identity, referralCode string) (string, error) {
	query := url.Values{"address": {identity.String()}}
	if referralCode != "" {
		query.Set("ref", referralCode)
	}

	var out struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/nonce?"+query.Encode(), "", nil, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// Verify submits the signed challenge.
func (c *BackendClient) Verify(ctx context.Context, identity models.Identity, signature string) (string, *models.UserProfile, error) {
	body := map[string]string{
		"address":   identity.String(),
		"signature": signature,
	}

	var out struct {
		Token string              `json:"token"`
		User  *models.UserProfile `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/verify", "", body, &out); err != nil {
		return "", nil, err
	}
	if out.Token == "" {
		return "", nil, service.ErrVerificationFailed
	}
	return out.Token, out.User, nil
}

// Profile fetches the current user profile.
func (c *BackendClient) Profile(ctx context.Context, token string) (*models.UserProfile, error) {
	var out models.UserProfile
	if err := c.do(ctx, http.MethodGet, "/users/profile", token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns one newest-first page of game history.
func (c *BackendClient) History(ctx context.Context, token string, page, limit int) ([]*models.GameHistoryItem, *models.Pagination, error) {
	path := fmt.Sprintf("/games/history?page=%d&limit=%d", page, limit)

	var out struct {
		Games      []*models.GameHistoryItem `json:"games"`
		Pagination *models.Pagination        `json:"pagination"`
	}
	if err := c.do(ctx, http.MethodGet, path, token, nil, &out); err != nil {
		return nil, nil, err
	}
	return out.Games, out.Pagination, nil
}

// SyncDeposit issues a corrective ledger write.
func (c *BackendClient) SyncDeposit(ctx context.Context, token string, amount float64, idempotencyKey string) error {
	body := map[string]interface{}{
		"amount":         amount,
		"idempotencyKey": idempotencyKey,
	}
	return c.do(ctx, http.MethodPost, "/wallet/sync-deposit", token, body, nil)
}

// Withdraw records a withdrawal against the named sub-ledger.
func (c *BackendClient) Withdraw(ctx context.Context, token string, walletType string, amount float64, onChainTx string) error {
	body := map[string]interface{}{
		"walletType": walletType,
		"amount":     amount,
	}
	if onChainTx != "" {
		body["onChainTx"] = onChainTx
	}
	return c.do(ctx, http.MethodPost, "/wallet/withdraw", token, body, nil)
}

func (c *BackendClient) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", service.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &service.RateLimitedError{Until: retryAfter(resp)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: backend returned %d", service.ErrVerificationFailed, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: backend returned %d", service.ErrTransientNetwork, resp.StatusCode)
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func retryAfter(resp *http.Response) time.Time {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Now().Add(time.Duration(seconds) * time.Second)
		}
	}
	return time.Now()
}
