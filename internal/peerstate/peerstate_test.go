package peerstate_test

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/nyxwire/duskmail/internal/peerstate"
	"github.com/nyxwire/duskmail/internal/store"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New()
	require.NoError(t, s.Open(context.Background(), filepath.Join(t.TempDir(), "peer.db"), 0,
		store.WithPeerStateFixer(func() store.PeerState { return peerstate.New() })))
	t.Cleanup(s.Unref)
	return s
}

func newKey(t *testing.T, name, email string) ([]byte, string) {
	t.Helper()
	entity, err := openpgp.NewEntity(name, "", email, nil)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, entity.Serialize(&buf))
	return buf.Bytes(), fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint)
}

func TestLoadByAddrMissing(t *testing.T) {
	s := openStore(t)
	p := peerstate.New()
	found, err := p.LoadByAddr(s, "nobody@example.com")
	require.NoError(t, err)
	require.False(t, found)
}

func TestSaveAndLoadRoundtrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	pubKey, wantFingerprint := newKey(t, "Alice", "alice@example.com")

	require.NoError(t, s.Execute(ctx,
		`INSERT INTO acpeerstates (addr, public_key) VALUES (?, ?);`, "alice@example.com", pubKey))

	p := peerstate.New()
	found, err := p.LoadByAddr(s, "alice@example.com")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "alice@example.com", p.Addr())

	require.True(t, p.RecalcFingerprint())
	require.Equal(t, wantFingerprint, p.PublicKeyFingerprint())

	saved, err := p.SaveToDB(s, false)
	require.NoError(t, err)
	require.True(t, saved)

	reloaded := peerstate.New()
	found, err = reloaded.LoadByAddr(s, "alice@example.com")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, wantFingerprint, reloaded.PublicKeyFingerprint())
}

func TestRecalcFingerprintFalseWithoutKeyMaterial(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Execute(ctx, `INSERT INTO acpeerstates (addr) VALUES ('bare@example.com');`))

	p := peerstate.New()
	found, err := p.LoadByAddr(s, "bare@example.com")
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, p.RecalcFingerprint())
}

func TestSaveWithoutLoadIsNoopUnlessCreateRequested(t *testing.T) {
	s := openStore(t)
	p := peerstate.New()

	saved, err := p.SaveToDB(s, false)
	require.NoError(t, err)
	require.False(t, saved)
}
