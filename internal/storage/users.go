package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ledger/internal/models"
)

const userColumns = "id, username, email, password_hash, first_name, last_name, is_admin, house_id, last_seen, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u        models.User
		houseID  sql.NullInt64
		lastSeen sql.NullInt64
	)
	if err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.IsAdmin, &houseID, &lastSeen, &u.CreatedAt,
	); err != nil {
		return nil, err
	}
	u.HouseID = int64Ptr(houseID)
	if lastSeen.Valid {
		u.LastSeen = time.Unix(lastSeen.Int64, 0).UTC()
	}
	return &u, nil
}

// CreateUser inserts u and returns the stored row.
func (q *Queries) CreateUser(ctx context.Context, u *models.User) (*models.User, error) {
	result, err := q.q.ExecContext(ctx,
		`INSERT INTO users (username, email, password_hash, first_name, last_name, is_admin, house_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.IsAdmin, nullInt64(u.HouseID),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", duplicate(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return q.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (q *Queries) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

// GetUserByUsername retrieves a user by username.
func (q *Queries) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
	u, err := scanUser(row)
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

// UsernameOrEmailTaken reports which of username and email already belong to a user.
func (q *Queries) UsernameOrEmailTaken(ctx context.Context, username, email string) (usernameTaken, emailTaken bool, err error) {
	err = q.q.QueryRowContext(ctx,
		`SELECT
			EXISTS(SELECT 1 FROM users WHERE username = ?),
			EXISTS(SELECT 1 FROM users WHERE email = ?)`,
		username, email,
	).Scan(&usernameTaken, &emailTaken)
	return usernameTaken, emailTaken, err
}

// TouchUser records that the user was active at the given time.
func (q *Queries) TouchUser(ctx context.Context, id int64, at time.Time) error {
	_, err := q.q.ExecContext(ctx, "UPDATE users SET last_seen = ? WHERE id = ?", at.Unix(), id)
	return err
}

// SetUserHouse moves a user into a house, or out of any house when houseID is nil.
func (q *Queries) SetUserHouse(ctx context.Context, userID int64, houseID *int64) error {
	result, err := q.q.ExecContext(ctx, "UPDATE users SET house_id = ? WHERE id = ?", nullInt64(houseID), userID)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// UserCount returns the number of users in the database.
func (q *Queries) UserCount(ctx context.Context) (int, error) {
	var count int
	err := q.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}
