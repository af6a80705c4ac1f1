package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/llm"
	"github.com/BaSui01/llmgate/providers"
)

type staticSecrets map[string]string

func (s staticSecrets) ResolveSecret(_ context.Context, ref string) (string, error) {
	if v, ok := s[ref]; ok {
		return v, nil
	}
	return "", fmt.Errorf("secret %q not found", ref)
}

func signedAssertion(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "workload",
		"exp": exp.Unix(),
	})
	s, err := token.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return s
}

func newTestExchanger(cfg providers.AzureConfig, secrets SecretResolver) *tokenExchanger {
	return &tokenExchanger{
		cfg:     cfg,
		cache:   NewTokenCache(nil, zap.NewNop()),
		secrets: secrets,
		client:  &http.Client{Timeout: 5 * time.Second},
		logger:  zap.NewNop(),
		now:     time.Now,
	}
}

func TestExchangeMissingIdentityConfig(t *testing.T) {
	t.Setenv(envClientID, "")
	t.Setenv(envTenantID, "")

	ex := newTestExchanger(providers.AzureConfig{}, staticSecrets{})
	_, err := ex.Exchange(context.Background(), "ref")

	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, llm.ErrInvalidConfig, le.Code)
	assert.Equal(t, 422, le.HTTPStatus)
}

func TestExchangeSecretResolutionFailure(t *testing.T) {
	ex := newTestExchanger(providers.AzureConfig{ClientID: "cid", TenantID: "tid"}, staticSecrets{})
	_, err := ex.Exchange(context.Background(), "missing")

	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, llm.ErrUnauthorized, le.Code)
	assert.Equal(t, 401, le.HTTPStatus)
}

func TestExchangeExpiredAssertionRejectedLocally(t *testing.T) {
	assertion := signedAssertion(t, time.Now().Add(-time.Hour))
	ex := newTestExchanger(
		providers.AzureConfig{ClientID: "cid", TenantID: "tid", AuthorityHost: "http://unreachable.invalid"},
		staticSecrets{"ref": assertion},
	)

	_, err := ex.Exchange(context.Background(), "ref")
	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, llm.ErrUnauthorized, le.Code)
	assert.Contains(t, le.Message, "expired")
}

func TestExchangeSuccessAndCache(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/tid/oauth2/v2.0/token", r.URL.Path)
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, tokenScope, r.Form.Get("scope"))
		assert.Equal(t, clientAssertionType, r.Form.Get("client_assertion_type"))
		assert.NotEmpty(t, r.Form.Get("client_assertion"))

		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "aad-token",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	assertion := signedAssertion(t, time.Now().Add(time.Hour))
	ex := newTestExchanger(
		providers.AzureConfig{ClientID: "cid", TenantID: "tid", AuthorityHost: srv.URL},
		staticSecrets{"ref": assertion},
	)

	tok, err := ex.Exchange(context.Background(), "ref")
	require.NoError(t, err)
	assert.Equal(t, "aad-token", tok)

	// 第二次走缓存，不再打上游
	tok, err = ex.Exchange(context.Background(), "ref")
	require.NoError(t, err)
	assert.Equal(t, "aad-token", tok)
	assert.Equal(t, int64(1), calls.Load())
}

func TestExchangeUpstreamRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	ex := newTestExchanger(
		providers.AzureConfig{ClientID: "cid", TenantID: "tid", AuthorityHost: srv.URL},
		staticSecrets{"ref": signedAssertion(t, time.Now().Add(time.Hour))},
	)

	_, err := ex.Exchange(context.Background(), "ref")
	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, llm.ErrUnauthorized, le.Code)
	assert.Equal(t, 401, le.HTTPStatus)
	assert.Contains(t, le.Message, "invalid_client")
}

func TestExchangeMalformedTokenResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"token_type": "Bearer"})
	}))
	defer srv.Close()

	ex := newTestExchanger(
		providers.AzureConfig{ClientID: "cid", TenantID: "tid", AuthorityHost: srv.URL},
		staticSecrets{"ref": signedAssertion(t, time.Now().Add(time.Hour))},
	)

	_, err := ex.Exchange(context.Background(), "ref")
	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, llm.ErrUnauthorized, le.Code)
	assert.Equal(t, 422, le.HTTPStatus)
}

func TestExchangeExpiryTriggersReExchange(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": fmt.Sprintf("tok-%d", n),
			"expires_in":   60,
		})
	}))
	defer srv.Close()

	now := time.Now()
	ex := newTestExchanger(
		providers.AzureConfig{ClientID: "cid", TenantID: "tid", AuthorityHost: srv.URL},
		staticSecrets{"ref": signedAssertion(t, now.Add(24*time.Hour))},
	)
	ex.now = func() time.Time { return now }
	ex.cache.now = func() time.Time { return now }

	tok, err := ex.Exchange(context.Background(), "ref")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	// 缓存过期后重新交换
	later := now.Add(2 * time.Minute)
	ex.now = func() time.Time { return later }
	ex.cache.now = func() time.Time { return later }

	tok, err = ex.Exchange(context.Background(), "ref")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, int64(2), calls.Load())
}

func TestExchangeCacheKeySensitivity(t *testing.T) {
	k1 := exchangeCacheKey("cid", "tid", "https://login.microsoftonline.com", "a1")
	k2 := exchangeCacheKey("cid", "tid", "https://login.microsoftonline.com", "a2")
	k3 := exchangeCacheKey("cid2", "tid", "https://login.microsoftonline.com", "a1")
	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Equal(t, k1, exchangeCacheKey("cid", "tid", "https://login.microsoftonline.com", "a1"))
}
