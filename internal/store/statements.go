package store

import (
	"context"
	"database/sql"
	"fmt"
)

// predefinedStmt names every cached statement slot, the Go analogue of the
// original's `PREDEFINED_{n}` enumeration.
type predefinedStmt int

const (
	stmtSelectConfigValue predefinedStmt = iota
	stmtInsertConfig
	stmtUpdateConfig
	stmtDeleteConfig
	stmtBegin
	stmtCommit
	stmtRollback
	predefinedCount
)

// predefine returns the compiled statement for idx: if already compiled, the
// same *sql.Stmt is returned for reuse (database/sql has no separate "reset"
// step, since each Exec/Query call rebinds its own arguments); if not yet
// compiled, it is prepared from sql and cached.
//
// Passing a different SQL string for an idx that was already registered is a
// programmer error, not a runtime condition, so this panics rather than
// returning an error, mirroring the original comment that this "MUST NOT"
// happen. In Go that is best caught loudly in tests rather than silently
// papered over.
func (s *Store) predefine(idx predefinedStmt, sqlText string) (*sql.Stmt, error) {
	if s.conn == nil {
		return nil, newErr(KindNotSetUp, "predefine on closed store", nil)
	}

	if s.stmts[idx] != nil {
		if s.stmtSQL[idx] != sqlText {
			panic(fmt.Sprintf("store: predefine: slot %d already bound to a different SQL text", idx))
		}
		return s.stmts[idx], nil
	}

	stmt, err := s.conn.Prepare(sqlText)
	if err != nil {
		err2 := newErr(KindQueryPreparationFailed, sqlText, err)
		s.log.Error().Err(err2).Msg("predefine failed")
		return nil, err2
	}
	s.stmts[idx] = stmt
	s.stmtSQL[idx] = sqlText
	return stmt, nil
}

// Predefine exposes the cached-statement path to external callers: it
// returns the statement for idx, compiling it from sqlText the first time
// and reusing the compiled form thereafter. The cache holds exactly
// predefinedCount slots, all of which this package uses for its own
// statements; there are no slots beyond them, and an idx outside
// 0..predefinedCount-1 panics with an index out of range. Ad-hoc statements
// go through Prepare/Execute instead.
func (s *Store) Predefine(idx int, sqlText string) (*sql.Stmt, error) {
	return s.predefine(predefinedStmt(idx), sqlText)
}

// ResetAll is a no-op under database/sql (there is no separate compiled
// state to rewind), kept so callers migrating from an enum-indexed-reset
// model have something to call.
func (s *Store) ResetAll() {}

// Execute compiles sql, steps it once expecting completion, finalizes it,
// and reports success. Used for one-shot DDL/DML that isn't worth caching.
func (s *Store) Execute(ctx context.Context, sqlText string, args ...any) error {
	if s.conn == nil {
		return newErr(KindNotSetUp, "execute on closed store", nil)
	}
	if _, err := s.conn.ExecContext(ctx, sqlText, args...); err != nil {
		err2 := newErr(KindExecutionFailed, sqlText, err)
		s.log.Error().Err(err2).Msg("execute failed")
		return err2
	}
	return nil
}

// Prepare compiles an ad-hoc statement not bound to any cache slot; the
// caller is responsible for closing it.
func (s *Store) Prepare(sqlText string) (*sql.Stmt, error) {
	if s.conn == nil {
		return nil, newErr(KindNotSetUp, "prepare on closed store", nil)
	}
	stmt, err := s.conn.Prepare(sqlText)
	if err != nil {
		err2 := newErr(KindQueryPreparationFailed, sqlText, err)
		s.log.Error().Err(err2).Msg("prepare failed")
		return nil, err2
	}
	return stmt, nil
}

// TableExists reports whether a table of the given name exists. name must
// be a simple identifier (letters, digits, underscore; not starting with a
// digit) since PRAGMA table_info cannot be parameter-bound; any other name
// reports false without querying.
func (s *Store) TableExists(name string) bool {
	if s.conn == nil || !validTableName.MatchString(name) {
		return false
	}
	rows, err := s.conn.Query(fmt.Sprintf("PRAGMA table_info(%s)", name))
	if err != nil {
		return false
	}
	defer rows.Close()
	return rows.Next()
}
