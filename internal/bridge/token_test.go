package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mdai-dev/kiosk/internal/errors"
)

func authServer(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth" {
			http.NotFound(w, r)
			return
		}
		var req authRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.APIKey != "kiosk-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPTokenService_IssueToken(t *testing.T) {
	srv := authServer(t, http.StatusOK, map[string]any{"token": "abc", "expires_in": 30})
	svc := NewHTTPTokenService(srv.URL+"/", "kiosk-key", time.Second)

	tok, err := svc.IssueToken(context.Background())
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if tok.Value != "abc" || tok.ExpiresIn != 30*time.Second {
		t.Errorf("token = %+v", tok)
	}
	if tok.Expiry().Sub(tok.IssuedAt) != 30*time.Second {
		t.Errorf("Expiry() = %v", tok.Expiry())
	}
}

func TestHTTPTokenService_JWTExpiryFallback(t *testing.T) {
	now := time.Now()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(2 * time.Minute)),
	}).SignedString([]byte("bridge-secret"))
	if err != nil {
		t.Fatal(err)
	}

	srv := authServer(t, http.StatusOK, map[string]any{"token": signed})
	svc := NewHTTPTokenService(srv.URL, "kiosk-key", time.Second)
	svc.now = func() time.Time { return now }

	tok, err := svc.IssueToken(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok.ExpiresIn < 119*time.Second || tok.ExpiresIn > 120*time.Second {
		t.Errorf("ExpiresIn = %v, want about 2m", tok.ExpiresIn)
	}
}

func TestHTTPTokenService_OpaqueTokenWithoutExpiry(t *testing.T) {
	srv := authServer(t, http.StatusOK, map[string]any{"token": "opaque"})
	tok, err := NewHTTPTokenService(srv.URL, "kiosk-key", 0).IssueToken(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok.ExpiresIn != 0 || !tok.Expiry().IsZero() {
		t.Errorf("expiry should be unknown, got %v", tok.ExpiresIn)
	}
}

func TestHTTPTokenService_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		key    string
	}{
		{"server error", http.StatusInternalServerError, map[string]any{"error": "down"}, "kiosk-key"},
		{"missing token", http.StatusOK, map[string]any{"expires_in": 30}, "kiosk-key"},
		{"bad key", http.StatusOK, map[string]any{"token": "x"}, "wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := authServer(t, tt.status, tt.body)
			_, err := NewHTTPTokenService(srv.URL, tt.key, time.Second).IssueToken(context.Background())
			if !errors.Is(err, errors.ErrPairingFailed) {
				t.Errorf("error = %v, want ErrPairingFailed", err)
			}
		})
	}
}

func TestAppReadyTimeout(t *testing.T) {
	def := 90 * time.Second
	tests := []struct {
		expiresIn time.Duration
		want      time.Duration
	}{
		{0, def},
		{30 * time.Second, 25 * time.Second},
		{12 * time.Second, 10 * time.Second},
		{300 * time.Second, 295 * time.Second},
	}
	for _, tt := range tests {
		if got := AppReadyTimeout(Token{ExpiresIn: tt.expiresIn}, def); got != tt.want {
			t.Errorf("AppReadyTimeout(%v) = %v, want %v", tt.expiresIn, got, tt.want)
		}
	}
}
