package store

import (
	"context"
	"database/sql"
	"strconv"
)

// SetConfig upserts key=value, or deletes key if value is nil (the Go
// spelling of "absent"). All four operations go through the cached
// statement slots reserved for the config table.
func (s *Store) SetConfig(ctx context.Context, key string, value *string) error {
	if key == "" {
		return newErr(KindBadParameter, "set_config: empty key", nil)
	}
	if !s.IsOpen() {
		return newErr(KindNotSetUp, "set_config: database not ready", nil)
	}

	if value == nil {
		stmt, err := s.predefine(stmtDeleteConfig, "DELETE FROM config WHERE keyname=?;")
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, key); err != nil {
			return newErr(KindExecutionFailed, "set_config: delete failed", err)
		}
		return nil
	}

	selectStmt, err := s.predefine(stmtSelectConfigValue, "SELECT value FROM config WHERE keyname=?;")
	if err != nil {
		return err
	}

	var existing string
	switch err := selectStmt.QueryRowContext(ctx, key).Scan(&existing); err {
	case sql.ErrNoRows:
		insertStmt, err := s.predefine(stmtInsertConfig, "INSERT INTO config (keyname, value) VALUES (?, ?);")
		if err != nil {
			return err
		}
		if _, err := insertStmt.ExecContext(ctx, key, *value); err != nil {
			return newErr(KindExecutionFailed, "set_config: insert failed", err)
		}
	case nil:
		updateStmt, err := s.predefine(stmtUpdateConfig, "UPDATE config SET value=? WHERE keyname=?;")
		if err != nil {
			return err
		}
		if _, err := updateStmt.ExecContext(ctx, *value, key); err != nil {
			return newErr(KindExecutionFailed, "set_config: update failed", err)
		}
	default:
		return newErr(KindExecutionFailed, "set_config: cannot read existing value", err)
	}
	return nil
}

// GetConfig returns the stored string for key, or def if absent. def itself
// may be nil, in which case absence simply propagates as nil.
func (s *Store) GetConfig(ctx context.Context, key string, def *string) *string {
	if !s.IsOpen() || key == "" {
		return def
	}

	stmt, err := s.predefine(stmtSelectConfigValue, "SELECT value FROM config WHERE keyname=?;")
	if err != nil {
		return def
	}

	var value string
	if err := stmt.QueryRowContext(ctx, key).Scan(&value); err != nil {
		return def
	}
	return &value
}

// GetConfigInt returns the signed-32-bit integer stored at key, or def if
// absent or unparsable. Parsing is tolerant of a leading integer prefix
// (e.g. "42abc" parses as 42, matching the original's atol() semantics);
// anything with no leading digits falls back to def.
func (s *Store) GetConfigInt(ctx context.Context, key string, def int32) int32 {
	strPtr := s.GetConfig(ctx, key, nil)
	if strPtr == nil {
		return def
	}
	n, ok := parseLeadingInt32(*strPtr)
	if !ok {
		return def
	}
	return n
}

// SetConfigInt stores value as its base-10 string representation.
func (s *Store) SetConfigInt(ctx context.Context, key string, value int32) error {
	v := strconv.FormatInt(int64(value), 10)
	return s.SetConfig(ctx, key, &v)
}

// parseLeadingInt32 parses the longest valid leading [+-]?[0-9]+ prefix of s
// as an int32, tolerating trailing non-numeric garbage. Returns ok=false if
// no digits are present at all.
func parseLeadingInt32(s string) (int32, bool) {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	start := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == start {
		return 0, false
	}
	n, err := strconv.ParseInt(s[:i], 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(n), true
}
