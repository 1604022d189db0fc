package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateAndLookupToken(t *testing.T) {
	s, ctx := openFresh(t, "tokens.db")

	token, err := s.CreateToken(ctx, 1, 42)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	foreignID, ok := s.LookupToken(ctx, 1, token)
	require.True(t, ok)
	require.Equal(t, int64(42), foreignID)

	_, ok = s.LookupToken(ctx, 2, token)
	require.False(t, ok, "token should not match under a different namespace")

	_, ok = s.LookupToken(ctx, 1, "no-such-token")
	require.False(t, ok)
}
