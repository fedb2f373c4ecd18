package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gestionale/internal/shared/authorization"
)

func TestCredentialService_GenerateAndVerify(t *testing.T) {
	svc := NewCredentialService("test-secret", 15)

	token, err := svc.Generate("u1", authorization.RoleOperator)
	require.NoError(t, err)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, authorization.RoleOperator, claims.Role)
}

func TestCredentialService_RejectsForeignKey(t *testing.T) {
	issuer := NewCredentialService("untrusted-secret", 15)
	verifier := NewCredentialService("trusted-secret", 15)

	token, err := issuer.Generate("u1", authorization.RoleAdmin)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.Error(t, err)
}

func TestCredentialService_RejectsExpired(t *testing.T) {
	svc := NewCredentialService("test-secret", -1)

	token, err := svc.Generate("u1", authorization.RoleViewer)
	require.NoError(t, err)

	// Allow for clock granularity: the token expired a minute ago.
	time.Sleep(10 * time.Millisecond)

	_, err = svc.Verify(token)
	assert.Error(t, err)
}

func TestCredentialService_RejectsGarbage(t *testing.T) {
	svc := NewCredentialService("test-secret", 15)

	_, err := svc.Verify("not-a-jwt")
	assert.Error(t, err)
}
