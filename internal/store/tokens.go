package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// GenerateToken returns a fresh opaque token suitable for storing in the
// tokens table (added at ladder target 39). UUIDs give collision resistance
// without a round-trip to the database to check uniqueness, the same role
// github.com/google/uuid plays for id generation throughout the teacher
// repo's stores.
func GenerateToken() string {
	return uuid.NewString()
}

// CreateToken mints a fresh token via GenerateToken, stores it in the tokens
// table under namespace ns against foreignID, and returns the token string.
// Used for things like invite-link or verification tokens minted by
// higher-level subsystems (namespace and foreign_id identify what the token
// is for, e.g. a chat invite or an unverified email address).
func (s *Store) CreateToken(ctx context.Context, ns int32, foreignID int64) (string, error) {
	if !s.IsOpen() {
		return "", newErr(KindNotSetUp, "create_token: database not ready", nil)
	}

	token := GenerateToken()
	if err := s.Execute(ctx,
		`INSERT INTO tokens (namespc, foreign_id, token, timestamp) VALUES (?, ?, ?, ?);`,
		ns, foreignID, token, time.Now().Unix(),
	); err != nil {
		return "", err
	}
	return token, nil
}

// LookupToken returns the foreign_id stored for token under namespace ns, and
// whether a matching row was found.
func (s *Store) LookupToken(ctx context.Context, ns int32, token string) (int64, bool) {
	if !s.IsOpen() {
		return 0, false
	}

	stmt, err := s.Prepare(`SELECT foreign_id FROM tokens WHERE namespc=? AND token=?;`)
	if err != nil {
		return 0, false
	}
	defer stmt.Close()

	var foreignID int64
	if err := stmt.QueryRowContext(ctx, ns, token).Scan(&foreignID); err != nil {
		return 0, false
	}
	return foreignID, true
}
