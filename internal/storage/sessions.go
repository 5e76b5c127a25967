package storage

import (
	"context"
	"time"

	"ledger/internal/models"
)

// SessionInfo holds session validation data.
type SessionInfo struct {
	User         *models.User
	LastActivity time.Time
	ExpiresAt    time.Time
}

// CreateSession creates a new session for a user.
func (q *Queries) CreateSession(ctx context.Context, token string, userID int64, now, expiresAt time.Time) error {
	_, err := q.q.ExecContext(ctx,
		"INSERT INTO sessions (token, user_id, expires_at, last_activity) VALUES (?, ?, ?, ?)",
		token, userID, expiresAt.Unix(), now.Unix(),
	)
	return err
}

// ValidateSession returns the session and its user when token exists and has
// not expired at now.
func (q *Queries) ValidateSession(ctx context.Context, token string, now time.Time) (*SessionInfo, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.email, u.password_hash, u.first_name, u.last_name,
		       u.is_admin, u.house_id, u.last_seen, u.created_at, s.last_activity, s.expires_at
		FROM sessions s
		JOIN users u ON s.user_id = u.id
		WHERE s.token = ? AND s.expires_at > ?
	`, token, now.Unix())

	var lastActivity, expiresAt int64
	user, err := scanUser(sessionRow{row: row, extra: []any{&lastActivity, &expiresAt}})
	if err != nil {
		return nil, notFound(err)
	}
	return &SessionInfo{
		User:         user,
		LastActivity: time.Unix(lastActivity, 0).UTC(),
		ExpiresAt:    time.Unix(expiresAt, 0).UTC(),
	}, nil
}

// sessionRow appends the session columns to the user columns scanUser reads.
type sessionRow struct {
	row   rowScanner
	extra []any
}

func (s sessionRow) Scan(dest ...any) error {
	return s.row.Scan(append(dest, s.extra...)...)
}

// RenewSession updates the last_activity and expires_at for a session.
func (q *Queries) RenewSession(ctx context.Context, token string, now, newExpiresAt time.Time) error {
	_, err := q.q.ExecContext(ctx,
		"UPDATE sessions SET last_activity = ?, expires_at = ? WHERE token = ?",
		now.Unix(), newExpiresAt.Unix(), token,
	)
	return err
}

// DeleteSession removes a session by token.
func (q *Queries) DeleteSession(ctx context.Context, token string) error {
	_, err := q.q.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", token)
	return err
}

// CleanExpiredSessions removes all sessions expired at now and returns how many were removed.
func (q *Queries) CleanExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := q.q.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", now.Unix())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
