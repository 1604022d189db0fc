package store

import "context"

// Begin increments the nesting counter; on the 0->1 transition it issues a
// physical BEGIN. Requires the Store lock to be held by the caller; the
// counter itself is safe to mutate only because of that discipline.
func (s *Store) Begin() {
	s.txCount++
	if s.txCount == 1 {
		stmt, err := s.predefine(stmtBegin, "BEGIN;")
		if err != nil {
			s.log.Error().Err(err).Msg("cannot begin transaction")
			return
		}
		if _, err := stmt.ExecContext(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("cannot begin transaction")
		}
	}
}

// Commit decrements the nesting counter; on the 1->0 transition it issues a
// physical COMMIT. Decrementing below 0 is a no-op, silently ignored by
// design, to tolerate cleanup paths that commit/rollback without knowing
// whether a begin actually happened.
func (s *Store) Commit() {
	if s.txCount < 1 {
		return
	}
	if s.txCount == 1 {
		stmt, err := s.predefine(stmtCommit, "COMMIT;")
		if err != nil {
			s.log.Error().Err(err).Msg("cannot commit transaction")
		} else if _, err := stmt.ExecContext(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("cannot commit transaction")
		}
	}
	s.txCount--
}

// Rollback decrements the nesting counter; on the 1->0 transition it issues
// a physical ROLLBACK. A failed rollback still decrements: a failed
// commit/rollback logs but still decrements the counter.
func (s *Store) Rollback() {
	if s.txCount < 1 {
		return
	}
	if s.txCount == 1 {
		stmt, err := s.predefine(stmtRollback, "ROLLBACK;")
		if err != nil {
			s.log.Error().Err(err).Msg("cannot rollback transaction")
		} else if _, err := stmt.ExecContext(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("cannot rollback transaction")
		}
	}
	s.txCount--
}

// InTransaction reports whether a physical transaction is currently open.
func (s *Store) InTransaction() bool {
	return s.txCount > 0
}
