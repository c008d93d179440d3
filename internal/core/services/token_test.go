package services

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("secret")
	token, err := svc.GenerateToken("u1", "Haeun")
	require.NoError(t, err)

	sub, name, err := svc.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "u1", sub)
	require.Equal(t, "Haeun", name)
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewTokenService("right").GenerateToken("u1", "")
	require.NoError(t, err)

	_, _, err = NewTokenService("wrong").ValidateToken(token)
	require.Error(t, err)
}

func TestTokenRejectsGarbage(t *testing.T) {
	_, _, err := NewTokenService("secret").ValidateToken("nope")
	require.Error(t, err)
}
