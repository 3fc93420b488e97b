package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoshizora-ml/shirushi/internal/auth"
)

func TestHashAndVerifyAPIKey(t *testing.T) {
	hash, err := auth.HashAPIKey("test-key-123")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	valid, err := auth.VerifyAPIKey("test-key-123", hash)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = auth.VerifyAPIKey("wrong-key", hash)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestKeyring(t *testing.T) {
	kr, err := auth.NewKeyring("admin-secret", "reader-secret")
	require.NoError(t, err)
	assert.False(t, kr.Empty())

	role, err := kr.Authenticate("admin-secret")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, role)
	assert.True(t, role.CanWrite())

	role, err = kr.Authenticate("reader-secret")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleReader, role)
	assert.False(t, role.CanWrite())

	_, err = kr.Authenticate("nope")
	assert.ErrorIs(t, err, auth.ErrInvalidAPIKey)
}

func TestKeyringEmptyRoles(t *testing.T) {
	kr, err := auth.NewKeyring("", "")
	require.NoError(t, err)
	assert.True(t, kr.Empty())

	_, err = kr.Authenticate("anything")
	assert.ErrorIs(t, err, auth.ErrInvalidAPIKey)
}

func TestJWTIssueAndValidate(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", 1*time.Hour)
	require.NoError(t, err)

	token, expiresAt, err := mgr.IssueToken(auth.RoleAdmin)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, claims.Role)
	assert.Equal(t, "shirushi", claims.Issuer)
}

func TestJWTRejectsForeignKey(t *testing.T) {
	mgr1, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	mgr2, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	token, _, err := mgr1.IssueToken(auth.RoleReader)
	require.NoError(t, err)

	_, err = mgr2.ValidateToken(token)
	assert.Error(t, err, "token signed by a different key must fail")
}

func TestJWTRejectsExpired(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", -time.Minute)
	require.NoError(t, err)

	token, _, err := mgr.IssueToken(auth.RoleAdmin)
	require.NoError(t, err)

	_, err = mgr.ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTRejectsGarbage(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	_, err = mgr.ValidateToken("not-a-token")
	assert.Error(t, err)
}
