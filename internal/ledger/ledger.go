// Package ledger implements the transaction query engine: scoped listing,
// pagination, category aggregation and owner-checked mutations.
package ledger

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"ledger/internal/apperr"
	"ledger/internal/events"
	"ledger/internal/models"
	"ledger/internal/storage"
	"ledger/internal/validation"
)

const (
	// DefaultPageSize is used when the service is built with a non-positive page size.
	DefaultPageSize = 10
	// RecentLimit is how many transactions the dashboard shows.
	RecentLimit = 5

	// Uncategorized replaces an empty category on write.
	Uncategorized = "Uncategorized"
	// AllCategories is the list filter value meaning no category restriction.
	AllCategories = "all"
)

// Store is the persistence the engine needs. *storage.DB satisfies it.
type Store interface {
	ListTransactions(ctx context.Context, tq storage.TransactionQuery) ([]models.Transaction, error)
	CountTransactions(ctx context.Context, tq storage.TransactionQuery) (int, error)
	DistinctCategories(ctx context.Context, userID int64) ([]string, error)
	CategoryTotals(ctx context.Context, userID int64) ([]models.CategoryTotal, error)
	GetTransaction(ctx context.Context, id int64) (*models.Transaction, error)
	WithTx(ctx context.Context, fn func(q *storage.Queries) error) error
}

// Actor is the authenticated caller on whose behalf an operation runs.
type Actor struct {
	UserID  int64
	IsAdmin bool
	HouseID *int64
}

func ActorFor(u *models.User) Actor {
	return Actor{UserID: u.ID, IsAdmin: u.IsAdmin, HouseID: u.HouseID}
}

func (a Actor) canAccess(ownerID int64) bool {
	return a.IsAdmin || a.UserID == ownerID
}

// Service is the transaction query engine.
type Service struct {
	store     Store
	publisher events.Publisher
	log       logrus.FieldLogger
	validate  *validator.Validate
	pageSize  int
	now       func() time.Time
}

// New returns a Service. A nil publisher disables events.
func New(store Store, publisher events.Publisher, log logrus.FieldLogger, pageSize int) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		store:     store,
		publisher: publisher,
		log:       log.WithField("component", "ledger"),
		validate:  validation.New(),
		pageSize:  pageSize,
		now:       time.Now,
	}
}

// PageSize returns the number of transactions per list page.
func (s *Service) PageSize() int { return s.pageSize }

// ListParams are the raw list filters as received from a request.
type ListParams struct {
	Category  string `json:"category" validate:"max=64"`
	StartDate string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Page      string `json:"page"`
}

// Filters are the normalized filters echoed back with a page.
type Filters struct {
	Category  string `json:"category"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Page is one page of a user's transactions.
type Page struct {
	Transactions []models.Transaction `json:"transactions"`
	Total        int                  `json:"total"`
	Page         int                  `json:"page"`
	PageSize     int                  `json:"page_size"`
	Pages        int                  `json:"pages"`
	HasPrev      bool                 `json:"has_prev"`
	HasNext      bool                 `json:"has_next"`
	Categories   []string             `json:"categories"`
	Filters      Filters              `json:"filters"`
}

func (p *Page) PrevPage() int { return p.Page - 1 }
func (p *Page) NextPage() int { return p.Page + 1 }

// parsePage reads the page number. Integers too large for an int are past
// any real last page and are clamped rather than rejected.
func parsePage(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(raw)
	if errors.Is(err, strconv.ErrRange) && page > 0 {
		return math.MaxInt, nil
	}
	if err != nil || page < 1 {
		return 0, apperr.Validation("page must be a positive integer")
	}
	return page, nil
}

// parseDate parses an optional YYYY-MM-DD filter value.
func parseDate(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse(models.DateLayout, raw)
	if err != nil {
		return time.Time{}, apperr.Validationf("%s must be a date in YYYY-MM-DD format", field)
	}
	return d, nil
}

func isAllCategories(category string) bool {
	return category == "" || strings.EqualFold(category, AllCategories)
}

func (s *Service) authorizeUser(actor Actor, userID int64) error {
	if !actor.canAccess(userID) {
		return apperr.Forbidden("You do not have permission to view these transactions")
	}
	return nil
}

// List returns one page of userID's transactions matching params.
func (s *Service) List(ctx context.Context, actor Actor, userID int64, params ListParams) (*Page, error) {
	if err := s.authorizeUser(actor, userID); err != nil {
		return nil, err
	}

	params.Category = strings.TrimSpace(params.Category)
	params.StartDate = strings.TrimSpace(params.StartDate)
	params.EndDate = strings.TrimSpace(params.EndDate)
	if err := validation.Struct(s.validate, params); err != nil {
		return nil, err
	}
	page, err := parsePage(params.Page)
	if err != nil {
		return nil, err
	}

	tq := storage.TransactionQuery{UserID: userID}
	filters := Filters{Category: params.Category, StartDate: params.StartDate, EndDate: params.EndDate}
	if isAllCategories(params.Category) {
		filters.Category = AllCategories
	} else {
		tq.Category = params.Category
	}
	if tq.StartDate, err = parseDate("start_date", params.StartDate); err != nil {
		return nil, err
	}
	if tq.EndDate, err = parseDate("end_date", params.EndDate); err != nil {
		return nil, err
	}

	total, err := s.store.CountTransactions(ctx, tq)
	if err != nil {
		return nil, apperr.Database(err)
	}
	pages := int(math.Ceil(float64(total) / float64(s.pageSize)))

	// Past the last page nothing is queried, so the offset never overflows.
	transactions := []models.Transaction{}
	if page <= pages {
		tq.Limit = s.pageSize
		tq.Offset = (page - 1) * s.pageSize
		transactions, err = s.store.ListTransactions(ctx, tq)
		if err != nil {
			return nil, apperr.Database(err)
		}
	}

	categories, err := s.store.DistinctCategories(ctx, userID)
	if err != nil {
		return nil, apperr.Database(err)
	}

	return &Page{
		Transactions: transactions,
		Total:        total,
		Page:         page,
		PageSize:     s.pageSize,
		Pages:        pages,
		HasPrev:      page > 1,
		HasNext:      page < pages,
		Categories:   categories,
		Filters:      filters,
	}, nil
}

// CategoryTotals sums userID's amounts per category, largest total first.
func (s *Service) CategoryTotals(ctx context.Context, actor Actor, userID int64) ([]models.CategoryTotal, error) {
	if err := s.authorizeUser(actor, userID); err != nil {
		return nil, err
	}

	totals, err := s.store.CategoryTotals(ctx, userID)
	if err != nil {
		return nil, apperr.Database(err)
	}

	sort.SliceStable(totals, func(i, j int) bool {
		if c := totals[i].Total.Cmp(totals[j].Total); c != 0 {
			return c > 0
		}
		return totals[i].Category < totals[j].Category
	})
	return totals, nil
}

// Recent returns the actor's most recent transactions, at most limit of them.
func (s *Service) Recent(ctx context.Context, actor Actor, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = RecentLimit
	}
	transactions, err := s.store.ListTransactions(ctx, storage.TransactionQuery{UserID: actor.UserID, Limit: limit})
	if err != nil {
		return nil, apperr.Database(err)
	}
	return transactions, nil
}

// Get returns a transaction the actor is allowed to modify.
func (s *Service) Get(ctx context.Context, actor Actor, id int64) (*models.Transaction, error) {
	t, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, lookupError(err)
	}
	if !actor.canAccess(t.UserID) {
		return nil, apperr.Forbidden("You do not have permission to view this transaction")
	}
	return t, nil
}

// TransactionInput is a transaction as submitted by a form or API call.
type TransactionInput struct {
	Amount      string `json:"amount" validate:"required,max=64"`
	Description string `json:"description" validate:"max=500"`
	Category    string `json:"category" validate:"max=64"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
}

// TransactionPatch carries the fields of an edit. Nil fields keep their value.
type TransactionPatch struct {
	Amount      *string `json:"amount"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
	Date        *string `json:"date"`
}

// Apply overlays p onto in.
func (p TransactionPatch) Apply(in TransactionInput) TransactionInput {
	if p.Amount != nil {
		in.Amount = *p.Amount
	}
	if p.Description != nil {
		in.Description = *p.Description
	}
	if p.Category != nil {
		in.Category = *p.Category
	}
	if p.Date != nil {
		in.Date = *p.Date
	}
	return in
}

// InputFrom returns the editable fields of t in their submitted form.
func InputFrom(t *models.Transaction) TransactionInput {
	return TransactionInput{
		Amount:      t.Amount.String(),
		Description: t.Description,
		Category:    t.Category,
		Date:        t.DateString(),
	}
}

type validInput struct {
	amount      decimal.Decimal
	description string
	category    string
	date        time.Time
}

// Amounts are limited to 15 integer digits and 12 decimal places. Without the
// bound an exponent such as 1e1000000 would expand to megabytes of digits.
const (
	maxAmountIntegerDigits = 15
	maxAmountScale         = 12
)

func amountInRange(d decimal.Decimal) bool {
	exp := int(d.Exponent())
	return exp >= -maxAmountScale && d.NumDigits()+exp <= maxAmountIntegerDigits
}

func (s *Service) check(in TransactionInput) (validInput, error) {
	in.Amount = strings.TrimSpace(in.Amount)
	in.Description = strings.TrimSpace(in.Description)
	in.Category = strings.TrimSpace(in.Category)
	in.Date = strings.TrimSpace(in.Date)

	if err := validation.Struct(s.validate, in); err != nil {
		return validInput{}, err
	}

	amount, err := decimal.NewFromString(in.Amount)
	if err != nil {
		return validInput{}, apperr.Validation("amount must be a number")
	}
	if !amountInRange(amount) {
		return validInput{}, apperr.Validation("amount is out of range")
	}
	date, err := time.Parse(models.DateLayout, in.Date)
	if err != nil {
		return validInput{}, apperr.Validation("date must be a date in YYYY-MM-DD format")
	}

	category := in.Category
	switch {
	case category == "":
		category = Uncategorized
	case strings.EqualFold(category, AllCategories):
		return validInput{}, apperr.Validationf("category %q is reserved", category)
	}

	return validInput{amount: amount, description: in.Description, category: category, date: date}, nil
}

// Add records a new transaction owned by the actor.
func (s *Service) Add(ctx context.Context, actor Actor, in TransactionInput) (*models.Transaction, error) {
	v, err := s.check(in)
	if err != nil {
		return nil, err
	}

	var created *models.Transaction
	err = s.store.WithTx(ctx, func(q *storage.Queries) error {
		var err error
		created, err = q.CreateTransaction(ctx, &models.Transaction{
			Amount:      v.amount,
			Description: v.description,
			Category:    v.category,
			Date:        v.date,
			UserID:      actor.UserID,
			HouseID:     actor.HouseID,
		})
		return err
	})
	if err != nil {
		return nil, apperr.Database(err)
	}

	s.publish(ctx, events.TransactionCreated, actor, created)
	return created, nil
}

// Edit applies patch to transaction id. Either every field is applied or none.
func (s *Service) Edit(ctx context.Context, actor Actor, id int64, patch TransactionPatch) (*models.Transaction, error) {
	var updated *models.Transaction
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		current, err := q.GetTransaction(ctx, id)
		if err != nil {
			return lookupError(err)
		}
		if !actor.canAccess(current.UserID) {
			return apperr.Forbidden("You do not have permission to edit this transaction")
		}

		v, err := s.check(patch.Apply(InputFrom(current)))
		if err != nil {
			return err
		}

		current.Amount = v.amount
		current.Description = v.description
		current.Category = v.category
		current.Date = v.date
		if err := q.UpdateTransaction(ctx, current); err != nil {
			return lookupError(err)
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, asAppError(err)
	}

	s.publish(ctx, events.TransactionUpdated, actor, updated)
	return updated, nil
}

// Delete removes transaction id.
func (s *Service) Delete(ctx context.Context, actor Actor, id int64) error {
	var deleted *models.Transaction
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		current, err := q.GetTransaction(ctx, id)
		if err != nil {
			return lookupError(err)
		}
		if !actor.canAccess(current.UserID) {
			return apperr.Forbidden("You do not have permission to delete this transaction")
		}
		if err := q.DeleteTransaction(ctx, id); err != nil {
			return lookupError(err)
		}
		deleted = current
		return nil
	})
	if err != nil {
		return asAppError(err)
	}

	s.publish(ctx, events.TransactionDeleted, actor, deleted)
	return nil
}

func lookupError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("Transaction not found")
	}
	return apperr.Database(err)
}

// asAppError leaves classified errors alone and treats anything else as a
// database failure.
func asAppError(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Database(err)
}

func (s *Service) publish(ctx context.Context, eventType string, actor Actor, t *models.Transaction) {
	e := events.Event{
		Type:          eventType,
		TransactionID: t.ID,
		OwnerID:       t.UserID,
		ActorID:       actor.UserID,
		Transaction:   t,
		OccurredAt:    s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"event":          eventType,
			"transaction_id": t.ID,
		}).Warn("Failed to publish transaction event")
	}
}
