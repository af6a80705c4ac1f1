package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCredentialKindDetection(t *testing.T) {
	c := TokenCredential("plain-bearer")
	assert.Equal(t, CredentialBearerToken, c.Kind())
	assert.Equal(t, "plain-bearer", c.Value())

	c = TokenCredential("oidc/env/TOKEN_VAR")
	assert.Equal(t, CredentialFederated, c.Kind())
	assert.Equal(t, "env/TOKEN_VAR", c.SecretRef())
}

func TestAPIKeyCredential(t *testing.T) {
	c := APIKeyCredential("sk-123")
	assert.Equal(t, CredentialAPIKey, c.Kind())
	assert.False(t, c.IsZero())
	assert.True(t, Credential{}.IsZero())
}

func TestCredentialStringNeverLeaksSecret(t *testing.T) {
	assert.NotContains(t, APIKeyCredential("sk-secret").String(), "sk-secret")
	assert.NotContains(t, TokenCredential("bearer-secret").String(), "bearer-secret")

	data, err := json.Marshal(APIKeyCredential("sk-secret"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-secret")
}

func TestCredentialOverrideContext(t *testing.T) {
	ctx := context.Background()

	_, ok := CredentialOverrideFromContext(ctx)
	assert.False(t, ok)

	ctx = WithCredentialOverride(ctx, TokenCredential("tok"))
	c, ok := CredentialOverrideFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, CredentialBearerToken, c.Kind())

	// 零值凭据不写入 ctx
	ctx2 := WithCredentialOverride(context.Background(), Credential{})
	_, ok = CredentialOverrideFromContext(ctx2)
	assert.False(t, ok)
}
