package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-date format used for transaction dates everywhere.
const DateLayout = "2006-01-02"

// Transaction represents a single income (positive) or expense (negative) record.
type Transaction struct {
	ID          int64           `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Date        time.Time       `json:"date"`
	UserID      int64           `json:"user_id"`
	HouseID     *int64          `json:"house_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// DateString returns the transaction date in YYYY-MM-DD form.
func (t Transaction) DateString() string {
	return t.Date.Format(DateLayout)
}

// CategoryTotal is the summed amount of one category for one user.
type CategoryTotal struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
	Count    int             `json:"count"`
}
