package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/models"
)

const transactionColumns = "id, amount, description, category, date, user_id, house_id, created_at"

// TransactionQuery selects one user's transactions. Empty Category and zero
// dates mean no restriction. Limit <= 0 returns every matching row.
type TransactionQuery struct {
	UserID    int64
	Category  string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
	Offset    int
}

func (tq TransactionQuery) where() (string, []any) {
	conds := []string{"user_id = ?"}
	args := []any{tq.UserID}

	if tq.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, tq.Category)
	}
	if !tq.StartDate.IsZero() {
		conds = append(conds, "date >= ?")
		args = append(args, tq.StartDate.Format(models.DateLayout))
	}
	if !tq.EndDate.IsZero() {
		conds = append(conds, "date <= ?")
		args = append(args, tq.EndDate.Format(models.DateLayout))
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		t       models.Transaction
		date    string
		houseID sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.Amount, &t.Description, &t.Category, &date, &t.UserID, &houseID, &t.CreatedAt); err != nil {
		return nil, err
	}
	d, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("transaction %d: bad stored date %q: %w", t.ID, date, err)
	}
	t.Date = d
	t.HouseID = int64Ptr(houseID)
	return &t, nil
}

// ListTransactions returns the matching transactions, newest date first.
// Rows sharing a date are ordered by id descending.
func (q *Queries) ListTransactions(ctx context.Context, tq TransactionQuery) ([]models.Transaction, error) {
	where, args := tq.where()
	query := "SELECT " + transactionColumns + " FROM transactions" + where + " ORDER BY date DESC, id DESC"
	if tq.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, tq.Limit, tq.Offset)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *t)
	}

	return transactions, rows.Err()
}

// CountTransactions returns how many transactions match, ignoring Limit and Offset.
func (q *Queries) CountTransactions(ctx context.Context, tq TransactionQuery) (int, error) {
	where, args := tq.where()
	var count int
	if err := q.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return count, nil
}

// DistinctCategories returns every category the user has used, ascending.
func (q *Queries) DistinctCategories(ctx context.Context, userID int64) ([]string, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT DISTINCT category FROM transactions WHERE user_id = ? ORDER BY category ASC", userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	categories := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// CategoryTotals sums the user's amounts per category, ordered by category.
// Amounts are stored as decimal text, so the sum is done here rather than in
// SQL to keep it exact.
func (q *Queries) CategoryTotals(ctx context.Context, userID int64) ([]models.CategoryTotal, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT category, amount FROM transactions WHERE user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("category totals: %w", err)
	}
	defer rows.Close()

	byCategory := map[string]*models.CategoryTotal{}
	for rows.Next() {
		var (
			category string
			amount   decimal.Decimal
		)
		if err := rows.Scan(&category, &amount); err != nil {
			return nil, err
		}
		ct, ok := byCategory[category]
		if !ok {
			ct = &models.CategoryTotal{Category: category, Total: decimal.Zero}
			byCategory[category] = ct
		}
		ct.Total = ct.Total.Add(amount)
		ct.Count++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totals := make([]models.CategoryTotal, 0, len(byCategory))
	for _, ct := range byCategory {
		totals = append(totals, *ct)
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Category < totals[j].Category })
	return totals, nil
}

// GetTransaction retrieves a single transaction by ID.
func (q *Queries) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	t, err := scanTransaction(row)
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// CreateTransaction inserts t and returns the stored row.
func (q *Queries) CreateTransaction(ctx context.Context, t *models.Transaction) (*models.Transaction, error) {
	result, err := q.q.ExecContext(ctx,
		"INSERT INTO transactions (amount, description, category, date, user_id, house_id) VALUES (?, ?, ?, ?, ?, ?)",
		t.Amount.String(), t.Description, t.Category, t.Date.Format(models.DateLayout), t.UserID, nullInt64(t.HouseID),
	)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return q.GetTransaction(ctx, id)
}

// UpdateTransaction overwrites the editable fields of an existing transaction.
func (q *Queries) UpdateTransaction(ctx context.Context, t *models.Transaction) error {
	result, err := q.q.ExecContext(ctx,
		"UPDATE transactions SET amount = ?, description = ?, category = ?, date = ? WHERE id = ?",
		t.Amount.String(), t.Description, t.Category, t.Date.Format(models.DateLayout), t.ID,
	)
	if err != nil {
		return fmt.Errorf("update transaction %d: %w", t.ID, err)
	}
	return expectAffected(result)
}

// DeleteTransaction removes a transaction by ID.
func (q *Queries) DeleteTransaction(ctx context.Context, id int64) error {
	result, err := q.q.ExecContext(ctx, "DELETE FROM transactions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete transaction %d: %w", id, err)
	}
	return expectAffected(result)
}

func expectAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
