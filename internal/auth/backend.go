package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// BackendVerifier performs strict verification: the token's signature is
// checked locally first, then the authentication backend confirms the
// session still exists. Use it for routes where a revoked-but-unexpired
// token must not pass.
type BackendVerifier struct {
	baseURL string
	local   *HMACVerifier
	client  *http.Client
}

// NewBackendVerifier builds a strict verifier talking to the auth backend at
// baseURL, which must expose GET /verify accepting a bearer token.
func NewBackendVerifier(baseURL, secret string) *BackendVerifier {
	return &BackendVerifier{
		baseURL: baseURL,
		local:   NewHMACVerifier(secret),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// VerifyToken checks the token locally, then against the backend. The
// backend's user ID wins on disagreement.
func (v *BackendVerifier) VerifyToken(ctx context.Context, token string) (uuid.UUID, error) {
	if _, err := v.local.VerifyToken(ctx, token); err != nil {
		return uuid.Nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/verify", nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		return uuid.Nil, fmt.Errorf("verify request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return uuid.Nil, ErrInvalidToken
	default:
		return uuid.Nil, fmt.Errorf("auth backend returned %d", resp.StatusCode)
	}

	var body struct {
		UserID uuid.UUID `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return uuid.Nil, fmt.Errorf("decode verify response: %w", err)
	}
	return body.UserID, nil
}

var _ TokenVerifier = (*BackendVerifier)(nil)
