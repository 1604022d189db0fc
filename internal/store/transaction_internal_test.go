package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newOpenStore(t *testing.T, name string) *Store {
	t.Helper()
	s := New()
	require.NoError(t, s.Open(context.Background(), filepath.Join(t.TempDir(), name), 0))
	t.Cleanup(s.Unref)
	return s
}

func TestNestedTransactionSinglePhysicalPair(t *testing.T) {
	s := newOpenStore(t, "tx.db")
	s.Lock()
	defer s.Unlock()

	require.Equal(t, 0, s.txCount)
	s.Begin()
	require.Equal(t, 1, s.txCount)
	s.Begin()
	require.Equal(t, 2, s.txCount)
	require.True(t, s.InTransaction())

	s.Commit()
	require.Equal(t, 1, s.txCount)
	require.True(t, s.InTransaction())

	s.Commit()
	require.Equal(t, 0, s.txCount)
	require.False(t, s.InTransaction())
}

func TestRollbackDecrementsAndIgnoresUnderflow(t *testing.T) {
	s := newOpenStore(t, "rollback.db")
	s.Lock()
	defer s.Unlock()

	s.Begin()
	s.Rollback()
	require.Equal(t, 0, s.txCount)

	// Extra rollback below zero is a silently-ignored mismatch, not a panic.
	s.Rollback()
	require.Equal(t, 0, s.txCount)
}

func TestWithTransactionCommitsOnSuccess(t *testing.T) {
	s := newOpenStore(t, "withtx.db")

	err := s.WithTransaction(func() error {
		return s.Execute(context.Background(), "INSERT INTO contacts (name) VALUES ('x');")
	})
	require.NoError(t, err)
	require.Equal(t, 0, s.txCount)
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	s := newOpenStore(t, "withtxerr.db")

	boom := newErr(KindBadParameter, "boom", nil)
	err := s.WithTransaction(func() error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, s.txCount)
}

func TestPredefinePanicsOnSQLMismatch(t *testing.T) {
	s := newOpenStore(t, "mismatch.db")

	_, err := s.predefine(stmtDeleteConfig, "DELETE FROM config WHERE keyname=?;")
	require.NoError(t, err)

	require.Panics(t, func() {
		s.predefine(stmtDeleteConfig, "DELETE FROM config;")
	})
}
