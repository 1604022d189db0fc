// Package store is the persistence core of the messenger: it owns the
// on-disk SQLite database, runs the schema migration ladder, and serves as
// the centrally-locked handle every higher-level subsystem goes through.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/nyxwire/duskmail/internal/logging"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// OpenFlags is a bitfield of options recognized by Open.
type OpenFlags uint32

const (
	// OpenReadOnly opens the database for reading only and skips the
	// migration ladder entirely.
	OpenReadOnly OpenFlags = 1 << iota
)

// busyTimeoutMillis is the writer-contention bound: a blocked writer waits
// up to this long before a step returns SQLITE_BUSY to the caller.
const busyTimeoutMillis = 10_000

// Store is the façade described by the persistence core: one connection, one
// small fixed statement cache, one recursive transaction counter, one
// exclusive mutex, and a component-scoped logger used solely for logging.
type Store struct {
	mu   sync.Mutex
	conn *sql.DB
	path string

	stmts     [predefinedCount]*sql.Stmt
	stmtSQL   [predefinedCount]string
	txCount   int
	peerState PeerStateFactory

	log zerolog.Logger
}

// New constructs a closed Store handle. Unlike the original C implementation
// this never aborts the process on allocation failure: ordinary Go
// allocation failures are not a condition this package can meaningfully
// recover from or distinguish, so none is synthesized here.
func New() *Store {
	return &Store{log: logging.WithComponent("store")}
}

// Option configures behavior passed to Open.
type Option func(*Store)

// WithPeerStateFixer injects the peer-state collaborator used by the
// version-34 migration repair pass. Passing none leaves the repair pass a
// no-op, logged rather than failed, since a database that never crossed
// version 34 never needs it and callers that don't care about Autocrypt
// peer states may reasonably omit it.
func WithPeerStateFixer(factory PeerStateFactory) Option {
	return func(s *Store) { s.peerState = factory }
}

// IsOpen reports whether the Store currently owns an open connection.
func (s *Store) IsOpen() bool {
	return s.conn != nil
}

// Path returns the path the Store was opened with, or "" if closed.
func (s *Store) Path() string {
	return s.path
}

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Open opens (or creates) the database file at path. On success, a 10s busy
// wait policy is installed, then the database is either bootstrapped (if
// empty) or migrated to the latest schema version (unless OpenReadOnly is
// set), and a success line is logged.
func (s *Store) Open(ctx context.Context, path string, flags OpenFlags, opts ...Option) error {
	if s.IsOpen() {
		err := newErr(KindAlreadyOpen, fmt.Sprintf("database %q already opened", path), nil)
		s.log.Error().Err(err).Msg("open failed")
		return err
	}

	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			err2 := newErr(KindOpenFailed, "cannot create database directory", err)
			s.log.Error().Err(err2).Str("path", path).Msg("open failed")
			return err2
		}
	}

	readOnly := flags&OpenReadOnly != 0
	mode := "rwc"
	if readOnly {
		mode = "ro"
	}
	dsn := fmt.Sprintf("file:%s?mode=%s&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)", path, mode, busyTimeoutMillis)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		err2 := newErr(KindOpenFailed, "cannot open database", err)
		s.log.Error().Err(err2).Str("path", path).Msg("open failed")
		return err2
	}
	// One logical connection: the statement cache and transaction counter
	// are only ever correct when every statement travels through the same
	// connection, and the Store mutex, not the pool, is the serialization
	// point.
	conn.SetMaxOpenConns(1)

	if !threadSafe(ctx, conn) {
		conn.Close()
		err2 := newErr(KindThreadUnsafeEngine, "sqlite compiled thread-unsafe; not supported", nil)
		s.log.Error().Err(err2).Msg("open failed")
		return err2
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		err2 := newErr(KindOpenFailed, "cannot open database", err)
		s.log.Error().Err(err2).Str("path", path).Msg("open failed")
		return err2
	}

	// Secure permissions, owner only: email content and key material are at
	// least as sensitive as whatever else shares this machine.
	if !readOnly {
		if err := os.Chmod(path, 0o600); err != nil {
			conn.Close()
			err2 := newErr(KindOpenFailed, "cannot set database permissions", err)
			s.log.Error().Err(err2).Str("path", path).Msg("open failed")
			return err2
		}
	}

	s.conn = conn
	s.path = path

	if !readOnly {
		if err := s.bootstrapOrMigrate(ctx); err != nil {
			s.closeLocked()
			return err
		}
	}

	s.log.Info().Str("path", path).Msg("opened database successfully")
	return nil
}

// threadSafe probes that the engine is running in serialized mode.
// modernc.org/sqlite is always built thread-safe, so in practice this only
// guards against a future driver swap that doesn't hold that guarantee.
func threadSafe(ctx context.Context, conn *sql.DB) bool {
	var mode string
	if err := conn.QueryRowContext(ctx, "PRAGMA threadsafe").Scan(&mode); err != nil {
		// Older/odd builds may not expose the pragma as a row; treat that
		// as non-fatal rather than refusing to open over a PRAGMA quirk.
		return true
	}
	return mode != "0"
}

// Close finalizes every cached statement slot, then closes the underlying
// connection. Idempotent and infallible: the handle returns to closed state
// and may be reopened. Like Begin/Commit/Execute, Close is a regular core
// operation and does not take the Store mutex itself; callers follow the
// same Lock/Unlock convention around it. Unref remains the sole place the
// Store locks on the caller's behalf.
func (s *Store) Close() {
	s.closeLocked()
}

func (s *Store) closeLocked() {
	if s.conn == nil {
		return
	}
	for i := range s.stmts {
		if s.stmts[i] != nil {
			s.stmts[i].Close()
			s.stmts[i] = nil
			s.stmtSQL[i] = ""
		}
	}
	s.conn.Close()
	s.conn = nil
	s.path = ""
	s.txCount = 0
	s.log.Info().Msg("database closed")
}

// Unref closes the Store if open, taking the mutex itself (the one place
// the Store locks on the caller's behalf), and releases it. After Unref the
// handle must not be reused.
func (s *Store) Unref() {
	s.mu.Lock()
	s.closeLocked()
	s.mu.Unlock()
}

// Lock acquires the Store's exclusive mutex. Callers wrap their
// multi-statement operations in Lock/Unlock; the persistence core itself
// never takes the lock except inside Unref.
func (s *Store) Lock() { s.mu.Lock() }

// Unlock releases the Store's exclusive mutex.
func (s *Store) Unlock() { s.mu.Unlock() }

// WithTransaction is a scoped-acquisition convenience that holds the Store
// lock, begins a (possibly nested) transaction, runs fn, and commits or
// rolls back depending on whether fn returns an error, guaranteeing release
// on every exit path. It does not replace Lock/Begin/Commit for callers
// that need finer control.
func (s *Store) WithTransaction(fn func() error) (err error) {
	s.Lock()
	defer s.Unlock()

	s.Begin()
	defer func() {
		if r := recover(); r != nil {
			s.Rollback()
			panic(r)
		}
		if err != nil {
			s.Rollback()
		} else {
			s.Commit()
		}
	}()

	err = fn()
	return err
}
