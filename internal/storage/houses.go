package storage

import (
	"context"
	"fmt"

	"ledger/internal/models"
)

// CreateHouse inserts a new house.
func (q *Queries) CreateHouse(ctx context.Context, name string) (*models.House, error) {
	result, err := q.q.ExecContext(ctx, "INSERT INTO houses (name) VALUES (?)", name)
	if err != nil {
		return nil, fmt.Errorf("insert house: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return q.GetHouse(ctx, id)
}

func (q *Queries) GetHouse(ctx context.Context, id int64) (*models.House, error) {
	var h models.House
	err := q.q.QueryRowContext(ctx, "SELECT id, name, created_at FROM houses WHERE id = ?", id).
		Scan(&h.ID, &h.Name, &h.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &h, nil
}

func (q *Queries) GetHouseByName(ctx context.Context, name string) (*models.House, error) {
	var h models.House
	err := q.q.QueryRowContext(ctx, "SELECT id, name, created_at FROM houses WHERE name = ?", name).
		Scan(&h.ID, &h.Name, &h.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &h, nil
}
