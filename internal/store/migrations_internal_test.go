package store

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/nyxwire/duskmail/internal/logging"
	"github.com/stretchr/testify/require"
)

// fakePeerState is a minimal, test-local PeerState: the real implementation
// lives in internal/peerstate, which imports this package and so cannot be
// imported back from here without a cycle.
type fakePeerState struct {
	addr                   string
	gossipKey              []byte
	publicKey              []byte
	verifiedKey            []byte
	gossipKeyFingerprint   string
	publicKeyFingerprint   string
	verifiedKeyFingerprint string
}

func (p *fakePeerState) LoadByAddr(s *Store, addr string) (bool, error) {
	stmt, err := s.Prepare("SELECT addr, gossip_key, public_key, gossip_key_fingerprint, public_key_fingerprint FROM acpeerstates WHERE addr=?;")
	if err != nil {
		return false, err
	}
	defer stmt.Close()
	err = stmt.QueryRow(addr).Scan(&p.addr, &p.gossipKey, &p.publicKey, &p.gossipKeyFingerprint, &p.publicKeyFingerprint)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (p *fakePeerState) RecalcFingerprint() bool {
	if len(p.gossipKey) > 0 {
		entities, err := openpgp.ReadKeyRing(bytes.NewReader(p.gossipKey))
		if err == nil && len(entities) > 0 {
			p.gossipKeyFingerprint = fmt.Sprintf("%X", entities[0].PrimaryKey.Fingerprint)
			p.verifiedKey = p.gossipKey
			p.verifiedKeyFingerprint = p.gossipKeyFingerprint
			return true
		}
	}
	return false
}

func (p *fakePeerState) SaveToDB(s *Store, createIfMissing bool) (bool, error) {
	stmt, err := s.Prepare("UPDATE acpeerstates SET verified_key=?, verified_key_fingerprint=? WHERE addr=?;")
	if err != nil {
		return false, err
	}
	defer stmt.Close()
	_, err = stmt.Exec(p.verifiedKey, p.verifiedKeyFingerprint, p.addr)
	return err == nil, err
}

// seedLegacyV34 builds a database the way a real pre-existing installation
// that stopped updating at schema version 34 would look: schema and data
// only through that rung of the ladder, plus the two verification columns
// that existed only at that version and are never created by this ladder
// (no fresh database can ever observe them, since the code that created
// them predates this implementation). It drives the ladder functions
// directly rather than through Open/bootstrapOrMigrate, since stopping a
// live migration run at an intermediate rung isn't part of the public
// contract.
func seedLegacyV34(t *testing.T, path string, gossipKey []byte) {
	t.Helper()
	ctx := context.Background()

	conn, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=rwc&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)", path, busyTimeoutMillis))
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	defer conn.Close()

	s := &Store{conn: conn, path: path, log: logging.WithComponent("test")}
	require.NoError(t, s.bootstrap(ctx))
	for _, step := range []func(context.Context, *Store) error{
		migrateTo1, migrateTo2, migrateTo7, migrateTo10, migrateTo12,
		migrateTo17, migrateTo18, migrateTo27, migrateTo34,
	} {
		require.NoError(t, step(ctx, s))
	}

	require.NoError(t, s.Execute(ctx, "ALTER TABLE acpeerstates ADD COLUMN gossip_key_verified INTEGER DEFAULT 0;"))
	require.NoError(t, s.Execute(ctx, "ALTER TABLE acpeerstates ADD COLUMN public_key_verified INTEGER DEFAULT 0;"))
	require.NoError(t, s.Execute(ctx,
		`INSERT INTO acpeerstates (addr, gossip_key, gossip_key_fingerprint, gossip_key_verified) VALUES (?, ?, '', 2);`,
		"a@b", gossipKey,
	))
	require.NoError(t, s.SetConfigInt(ctx, "dbversion", 34))
}

// seedLegacyV18 builds a database stopped at ladder target 18, the
// scenario a read-only open is never supposed to advance past.
func seedLegacyV18(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()

	conn, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=rwc&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)", path, busyTimeoutMillis))
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	defer conn.Close()

	s := &Store{conn: conn, path: path, log: logging.WithComponent("test")}
	require.NoError(t, s.bootstrap(ctx))
	for _, step := range []func(context.Context, *Store) error{
		migrateTo1, migrateTo2, migrateTo7, migrateTo10, migrateTo12, migrateTo17, migrateTo18,
	} {
		require.NoError(t, step(ctx, s))
	}
	require.NoError(t, s.SetConfigInt(ctx, "dbversion", 18))
}

func TestReadOnlySkipsMigration(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ro18.db")
	seedLegacyV18(t, path)

	s := New()
	require.NoError(t, s.Open(ctx, path, OpenReadOnly))
	defer s.Unref()

	require.Equal(t, int32(18), s.GetConfigInt(ctx, "dbversion", -1))
	require.False(t, s.TableExists("tokens"))
}

func TestVersion34MigrationRepair(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "v34.db")

	entity, err := openpgp.NewEntity("peer", "", "peer@example.com", nil)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, entity.Serialize(&buf))
	gossipKey := buf.Bytes()
	wantFingerprint := fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint)

	seedLegacyV34(t, path, gossipKey)

	s := New()
	require.NoError(t, s.Open(ctx, path, 0, WithPeerStateFixer(func() PeerState { return &fakePeerState{} })))
	defer s.Unref()

	require.Equal(t, int32(40), s.GetConfigInt(ctx, "dbversion", -1))

	stmt, err := s.Prepare("SELECT verified_key, verified_key_fingerprint FROM acpeerstates WHERE addr='a@b';")
	require.NoError(t, err)
	defer stmt.Close()

	var verifiedKey []byte
	var verifiedFingerprint string
	require.NoError(t, stmt.QueryRowContext(ctx).Scan(&verifiedKey, &verifiedFingerprint))
	require.Equal(t, gossipKey, verifiedKey)
	require.Equal(t, wantFingerprint, verifiedFingerprint)
}
