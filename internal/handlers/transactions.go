package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"ledger/internal/apperr"
	"ledger/internal/ledger"
	"ledger/internal/models"
	"ledger/internal/storage"
)

// CategoryDef defines the properties of a suggested category.
type CategoryDef struct {
	ID    string
	Name  string
	Icon  string
	Color string
}

var categories = []CategoryDef{
	{"groceries", "Groceries", "🛒", "#34d399"},
	{"dining", "Dining", "🍽️", "#60a5fa"},
	{"transport", "Transport", "🚌", "#a78bfa"},
	{"housing", "Housing", "🏠", "#818cf8"},
	{"utilities", "Utilities", "💡", "#fbbf24"},
	{"entertainment", "Entertainment", "🎮", "#f472b6"},
	{"health", "Health", "🩺", "#f87171"},
	{"salary", "Salary", "💼", "#22c55e"},
	{"gifts", "Gifts", "🎁", "#fb7185"},
	{"other", "Other", "📦", "#94a3b8"},
}

// CategoryStyle defines the visual style for a category.
type CategoryStyle struct {
	Icon  string
	Color string
}

func getCategoryStyle(category string) CategoryStyle {
	catLower := strings.ToLower(category)
	for _, c := range categories {
		if c.ID == catLower {
			return CategoryStyle{Icon: c.Icon, Color: c.Color}
		}
	}
	return CategoryStyle{Icon: "📦", Color: "#94a3b8"}
}

// TransactionItem represents a transaction in list views.
type TransactionItem struct {
	models.Transaction
	CategoryStyle CategoryStyle
	IsIncome      bool
}

func toItems(transactions []models.Transaction) []TransactionItem {
	items := make([]TransactionItem, 0, len(transactions))
	for _, t := range transactions {
		items = append(items, TransactionItem{
			Transaction:   t,
			CategoryStyle: getCategoryStyle(t.Category),
			IsIncome:      t.Amount.IsPositive(),
		})
	}
	return items
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, apperr.NotFound("Transaction not found")
	}
	return id, nil
}

// targetUser returns the user_id query parameter, defaulting to the caller.
func targetUser(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if raw == "" {
		return GetUserFromContext(r).ID, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, apperr.Validation("user_id must be a positive integer")
	}
	return id, nil
}

func listParams(r *http.Request) ledger.ListParams {
	q := r.URL.Query()
	return ledger.ListParams{
		Category:  q.Get("category"),
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
		Page:      q.Get("page"),
	}
}

// optionalUser returns the session user if there is one, without requiring it.
func (h *Handlers) optionalUser(r *http.Request) *http.Request {
	if info, err := h.session(r); err == nil {
		return withUser(r, info.User)
	}
	return r
}

// Index renders the landing page, or sends logged in users to the dashboard.
func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	if _, err := h.session(r); err == nil {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return
	}
	h.render(w, r, "index.html", struct{ View }{h.view(w, r)})
}

// StaticPage renders a page that only needs the layout.
func (h *Handlers) StaticPage(viewName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r = h.optionalUser(r)
		h.render(w, r, viewName, struct{ View }{h.view(w, r)})
	}
}

// Healthz reports whether the database is reachable.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		h.fail(w, r, apperr.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DashboardViewModel is the data passed to the dashboard template.
type DashboardViewModel struct {
	View
	House  *models.House
	Recent []TransactionItem
}

// Dashboard shows the user's most recent transactions and house.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)

	recent, err := h.ledger.Recent(r.Context(), actor(r), ledger.RecentLimit)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	vm := DashboardViewModel{View: h.view(w, r), Recent: toItems(recent)}
	if user.HouseID != nil {
		house, err := h.db.GetHouse(r.Context(), *user.HouseID)
		switch {
		case err == nil:
			vm.House = house
		case !errors.Is(err, storage.ErrNotFound):
			h.fail(w, r, apperr.Database(err))
			return
		}
	}

	h.render(w, r, "dashboard.html", vm)
}

// ListViewModel is the data passed to the list view template.
type ListViewModel struct {
	View
	Page     *ledger.Page
	Items    []TransactionItem
	Subtotal decimal.Decimal
	UserID   int64
	PrevURL  string
	NextURL  string
}

// ListTransactions renders one page of transactions.
func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := targetUser(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	page, err := h.ledger.List(r.Context(), actor(r), userID, listParams(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	subtotal := decimal.Zero
	for _, t := range page.Transactions {
		subtotal = subtotal.Add(t.Amount)
	}

	vm := ListViewModel{
		View:     h.view(w, r),
		Page:     page,
		Items:    toItems(page.Transactions),
		Subtotal: subtotal,
		UserID:   userID,
	}
	if page.HasPrev {
		vm.PrevURL = pageURL(r, page.PrevPage())
	}
	if page.HasNext {
		vm.NextURL = pageURL(r, page.NextPage())
	}

	h.render(w, r, "list.html", vm)
}

func pageURL(r *http.Request, page int) string {
	q := r.URL.Query()
	q.Set("page", strconv.Itoa(page))
	u := url.URL{Path: r.URL.Path, RawQuery: q.Encode()}
	return u.String()
}

// FormViewModel is the data passed to the add/edit form template.
type FormViewModel struct {
	View
	IsEdit     bool
	ID         int64
	Input      ledger.TransactionInput
	Error      string
	Categories []CategoryDef
}

// AddTransactionForm renders the form to record a new transaction.
func (h *Handlers) AddTransactionForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "form.html", FormViewModel{
		View:       h.view(w, r),
		Input:      ledger.TransactionInput{Date: h.now().Format(models.DateLayout)},
		Categories: categories,
	})
}

// AddTransaction handles the add form submission.
func (h *Handlers) AddTransaction(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, bodyError(err, "Invalid form submission"))
		return
	}

	in := ledger.TransactionInput{
		Amount:      r.PostFormValue("amount"),
		Description: r.PostFormValue("description"),
		Category:    r.PostFormValue("category"),
		Date:        r.PostFormValue("date"),
	}

	if _, err := h.ledger.Add(r.Context(), actor(r), in); err != nil {
		h.formError(w, r, FormViewModel{Input: in}, err)
		return
	}

	h.setFlash(w, "success", "Transaction added successfully!")
	redirect(w, r, "/transactions")
}

// EditTransactionForm renders the form to edit an existing transaction.
func (h *Handlers) EditTransactionForm(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	t, err := h.ledger.Get(r.Context(), actor(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.render(w, r, "form.html", FormViewModel{
		View:       h.view(w, r),
		IsEdit:     true,
		ID:         t.ID,
		Input:      ledger.InputFrom(t),
		Categories: categories,
	})
}

// EditTransaction applies the submitted fields to a transaction.
func (h *Handlers) EditTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, bodyError(err, "Invalid form submission"))
		return
	}

	patch := formPatch(r.PostForm)
	if _, err := h.ledger.Edit(r.Context(), actor(r), id, patch); err != nil {
		h.formError(w, r, FormViewModel{IsEdit: true, ID: id, Input: patch.Apply(ledger.TransactionInput{})}, err)
		return
	}

	h.setFlash(w, "success", "Transaction updated successfully!")
	redirect(w, r, "/transactions")
}

// formPatch builds a patch holding only the fields present in the form.
func formPatch(form url.Values) ledger.TransactionPatch {
	field := func(name string) *string {
		if !form.Has(name) {
			return nil
		}
		v := form.Get(name)
		return &v
	}
	return ledger.TransactionPatch{
		Amount:      field("amount"),
		Description: field("description"),
		Category:    field("category"),
		Date:        field("date"),
	}
}

// formError re-renders the form with the message for validation failures and
// reports every other error normally.
func (h *Handlers) formError(w http.ResponseWriter, r *http.Request, vm FormViewModel, err error) {
	if !apperr.Is(err, apperr.KindValidation) {
		h.fail(w, r, err)
		return
	}
	vm.View = View{User: GetUserFromContext(r)}
	vm.Error = apperr.PublicMessage(err)
	vm.Categories = categories
	h.renderStatus(w, r, http.StatusBadRequest, "form.html", vm)
}

// DeleteTransaction removes a transaction.
func (h *Handlers) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.ledger.Delete(r.Context(), actor(r), id); err != nil {
		h.fail(w, r, err)
		return
	}

	h.setFlash(w, "success", "Transaction deleted successfully!")
	redirect(w, r, "/transactions")
}
