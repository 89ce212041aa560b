package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mdai-dev/kiosk/internal/errors"
)

// Bounds on the app-ready wait derived from a token.
const (
	minAppReadyTimeout = 10 * time.Second
	expirySafetyMargin = 5 * time.Second
)

// Token is a short-lived pairing token.
type Token struct {
	Value string
	// ExpiresIn is zero when the backend did not say.
	ExpiresIn time.Duration
	IssuedAt  time.Time
}

// Expiry returns the absolute expiry, or the zero time when unknown.
func (t Token) Expiry() time.Time {
	if t.ExpiresIn <= 0 {
		return time.Time{}
	}
	return t.IssuedAt.Add(t.ExpiresIn)
}

// AppReadyTimeout returns how long to wait for the mobile app: five seconds
// short of the token's lifetime, never under ten seconds, or def when the
// lifetime is unknown.
func AppReadyTimeout(t Token, def time.Duration) time.Duration {
	if t.ExpiresIn <= 0 {
		return def
	}
	return max(minAppReadyTimeout, t.ExpiresIn-expirySafetyMargin)
}

// TokenService issues pairing tokens.
type TokenService interface {
	IssueToken(ctx context.Context) (Token, error)
}

// HTTPTokenService exchanges the kiosk API key for a token at
// POST {base}/auth.
type HTTPTokenService struct {
	baseURL string
	apiKey  string
	client  *http.Client
	now     func() time.Time
}

// NewHTTPTokenService creates a token service. A non-positive timeout leaves
// the client without one.
func NewHTTPTokenService(baseURL, apiKey string, timeout time.Duration) *HTTPTokenService {
	client := &http.Client{}
	if timeout > 0 {
		client.Timeout = timeout
	}
	return &HTTPTokenService{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		now:     time.Now,
	}
}

type authRequest struct {
	APIKey string `json:"api_key"`
}

type authResponse struct {
	Token     string   `json:"token"`
	ExpiresIn *float64 `json:"expires_in"`
}

// IssueToken implements TokenService. Failures wrap errors.ErrPairingFailed.
func (s *HTTPTokenService) IssueToken(ctx context.Context) (Token, error) {
	body, err := json.Marshal(authRequest{APIKey: s.apiKey})
	if err != nil {
		return Token{}, errors.Join(errors.ErrPairingFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/auth", bytes.NewReader(body))
	if err != nil {
		return Token{}, errors.Join(errors.ErrPairingFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Token{}, errors.Join(errors.ErrPairingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Token{}, errors.Join(errors.ErrPairingFailed,
			fmt.Errorf("auth returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var out authResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Token{}, errors.Join(errors.ErrPairingFailed, fmt.Errorf("decode auth response: %w", err))
	}
	if out.Token == "" {
		return Token{}, errors.Join(errors.ErrPairingFailed, errors.New("auth response missing token"))
	}

	now := s.now()
	tok := Token{Value: out.Token, IssuedAt: now}
	if out.ExpiresIn != nil && *out.ExpiresIn > 0 {
		tok.ExpiresIn = time.Duration(*out.ExpiresIn * float64(time.Second))
	} else if exp, ok := jwtExpiry(out.Token); ok && exp.After(now) {
		tok.ExpiresIn = exp.Sub(now)
	}
	return tok, nil
}

// jwtExpiry reads the exp claim of a JWT without verifying it. The kiosk
// does not hold the signing key; the claim is only used to size a timeout.
func jwtExpiry(raw string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
