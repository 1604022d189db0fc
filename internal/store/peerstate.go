package store

// PeerState is the collaborator contract the version-34 migration repair
// pass calls into. It is intentionally the only crypto-layer dependency
// this package knows about, and only as an interface: the concrete
// implementation (internal/peerstate) is injected by the caller via
// WithPeerStateFixer rather than imported here, avoiding a hard dependency
// from the persistence core onto the crypto layer.
type PeerState interface {
	// LoadByAddr loads the peer state for addr from the database. Returns
	// false if no row exists for addr.
	LoadByAddr(s *Store, addr string) (bool, error)
	// RecalcFingerprint recomputes fingerprints from the peer state's
	// stored key material. Returns false if there is no key material to
	// fingerprint.
	RecalcFingerprint() bool
	// SaveToDB writes the peer state back. createIfMissing controls
	// whether a row is inserted when none existed. The repair pass always
	// passes false, since every row it visits was just loaded.
	SaveToDB(s *Store, createIfMissing bool) (bool, error)
}

// PeerStateFactory constructs a fresh PeerState instance, analogous to the
// original's `dc_apeerstate_new(context)`.
type PeerStateFactory func() PeerState
