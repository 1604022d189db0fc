// Package peerstate implements the persistence core's one crypto-layer
// collaborator: the Autocrypt-style peer state the version-34 migration
// repair pass recalculates fingerprints for. Key parsing and fingerprint
// extraction follow the same approach used elsewhere for PGP key handling,
// trimmed to exactly the surface the repair pass (store.PeerState) needs.
// Signing, encryption and key-server lookups stay with the PGP subsystem
// that owns them and are out of scope here.
package peerstate

import (
	"database/sql"
	"fmt"

	"github.com/nyxwire/duskmail/internal/logging"
	"github.com/nyxwire/duskmail/internal/store"
	"github.com/rs/zerolog"
)

// State is the concrete store.PeerState implementation backed by the
// acpeerstates table.
type State struct {
	addr                   string
	lastSeen               int64
	lastSeenAutocrypt      int64
	publicKey              []byte
	preferEncrypted        int64
	gossipTimestamp        int64
	gossipKey              []byte
	publicKeyFingerprint   string
	gossipKeyFingerprint   string
	verifiedKey            []byte
	verifiedKeyFingerprint string

	exists bool
	log    zerolog.Logger
}

// New constructs a detached peer state, analogous to the original's
// dc_apeerstate_new(context). It satisfies store.PeerState and is meant to
// be passed to store.WithPeerStateFixer as a store.PeerStateFactory:
//
//	s.Open(ctx, path, 0, store.WithPeerStateFixer(func() store.PeerState { return peerstate.New() }))
func New() *State {
	return &State{log: logging.WithComponent("peerstate")}
}

// Addr returns the address this peer state was loaded for.
func (p *State) Addr() string { return p.addr }

// PublicKeyFingerprint returns the last-computed fingerprint of PublicKey.
func (p *State) PublicKeyFingerprint() string { return p.publicKeyFingerprint }

// GossipKeyFingerprint returns the last-computed fingerprint of GossipKey.
func (p *State) GossipKeyFingerprint() string { return p.gossipKeyFingerprint }

// VerifiedKeyFingerprint returns the last-computed fingerprint of VerifiedKey.
func (p *State) VerifiedKeyFingerprint() string { return p.verifiedKeyFingerprint }

const selectByAddrSQL = `SELECT addr, last_seen, last_seen_autocrypt, public_key, prefer_encrypted,
	gossip_timestamp, gossip_key, public_key_fingerprint, gossip_key_fingerprint,
	verified_key, verified_key_fingerprint
	FROM acpeerstates WHERE addr=?;`

// LoadByAddr loads the row for addr, if any. acpeerstates carries no
// uniqueness constraint on addr; if duplicates exist, the first match is
// used, and it's the writer's job to prevent duplicates from accumulating
// in the first place.
func (p *State) LoadByAddr(s *store.Store, addr string) (bool, error) {
	stmt, err := s.Prepare(selectByAddrSQL)
	if err != nil {
		return false, err
	}
	defer stmt.Close()

	var pubKey, gossipKey, verifiedKey []byte
	row := stmt.QueryRow(addr)
	err = row.Scan(
		&p.addr, &p.lastSeen, &p.lastSeenAutocrypt, &pubKey, &p.preferEncrypted,
		&p.gossipTimestamp, &gossipKey, &p.publicKeyFingerprint, &p.gossipKeyFingerprint,
		&verifiedKey, &p.verifiedKeyFingerprint,
	)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	p.publicKey = pubKey
	p.gossipKey = gossipKey
	p.verifiedKey = verifiedKey
	p.exists = true
	return true, nil
}

// RecalcFingerprint recomputes public_key_fingerprint, gossip_key_fingerprint
// and verified_key_fingerprint from whatever key material is present.
// Returns false only when none of the three keys could be fingerprinted,
// which the migration repair pass treats as "nothing to save" rather than
// an error.
func (p *State) RecalcFingerprint() bool {
	haveAny := false
	if fp, ok := fingerprintOf(p.publicKey); ok {
		p.publicKeyFingerprint = fp
		haveAny = true
	}
	if fp, ok := fingerprintOf(p.gossipKey); ok {
		p.gossipKeyFingerprint = fp
		haveAny = true
	}
	if fp, ok := fingerprintOf(p.verifiedKey); ok {
		p.verifiedKeyFingerprint = fp
		haveAny = true
	}
	return haveAny
}

const updateSQL = `UPDATE acpeerstates SET
	last_seen=?, last_seen_autocrypt=?, public_key=?, prefer_encrypted=?,
	gossip_timestamp=?, gossip_key=?, public_key_fingerprint=?, gossip_key_fingerprint=?,
	verified_key=?, verified_key_fingerprint=?
	WHERE addr=?;`

const insertSQL = `INSERT INTO acpeerstates
	(addr, last_seen, last_seen_autocrypt, public_key, prefer_encrypted,
	 gossip_timestamp, gossip_key, public_key_fingerprint, gossip_key_fingerprint,
	 verified_key, verified_key_fingerprint)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

// SaveToDB writes the peer state back. If no row existed for this address
// and createIfMissing is false (the repair pass always passes false, since
// it only ever visits rows it just loaded), this is a no-op.
func (p *State) SaveToDB(s *store.Store, createIfMissing bool) (bool, error) {
	if !p.exists {
		if !createIfMissing {
			return false, nil
		}
		stmt, err := s.Prepare(insertSQL)
		if err != nil {
			return false, err
		}
		defer stmt.Close()
		if _, err := stmt.Exec(
			p.addr, p.lastSeen, p.lastSeenAutocrypt, p.publicKey, p.preferEncrypted,
			p.gossipTimestamp, p.gossipKey, p.publicKeyFingerprint, p.gossipKeyFingerprint,
			p.verifiedKey, p.verifiedKeyFingerprint,
		); err != nil {
			return false, fmt.Errorf("peerstate: insert failed: %w", err)
		}
		p.exists = true
		return true, nil
	}

	stmt, err := s.Prepare(updateSQL)
	if err != nil {
		return false, err
	}
	defer stmt.Close()
	if _, err := stmt.Exec(
		p.lastSeen, p.lastSeenAutocrypt, p.publicKey, p.preferEncrypted,
		p.gossipTimestamp, p.gossipKey, p.publicKeyFingerprint, p.gossipKeyFingerprint,
		p.verifiedKey, p.verifiedKeyFingerprint, p.addr,
	); err != nil {
		return false, fmt.Errorf("peerstate: update failed: %w", err)
	}
	return true, nil
}
