package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"ledger/internal/apperr"
	"ledger/internal/ledger"
	"ledger/internal/models"
)

// decodeJSON reads one JSON object from the request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("Request body must not be empty")
		}
		return bodyError(err, "Invalid JSON body")
	}
	if dec.More() {
		return apperr.Validation("Request body must contain a single JSON object")
	}
	return nil
}

// flexString accepts a JSON string or number, so amounts may be sent as either.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("amount must be a string or a number")
	}
	*f = flexString(n.String())
	return nil
}

type apiTransactionInput struct {
	Amount      flexString `json:"amount"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Date        string     `json:"date"`
}

type apiTransactionPatch struct {
	Amount      *flexString `json:"amount"`
	Description *string     `json:"description"`
	Category    *string     `json:"category"`
	Date        *string     `json:"date"`
}

func (p apiTransactionPatch) patch() ledger.TransactionPatch {
	out := ledger.TransactionPatch{Description: p.Description, Category: p.Category, Date: p.Date}
	if p.Amount != nil {
		s := string(*p.Amount)
		out.Amount = &s
	}
	return out
}

// CategoriesResponse is the body of GET /api/v1/transactions/categories.
type CategoriesResponse struct {
	UserID     int64                  `json:"user_id"`
	Categories []models.CategoryTotal `json:"categories"`
}

// APIListTransactions returns one page of transactions as JSON.
func (h *Handlers) APIListTransactions(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, page)
}

// APICreateTransaction records a transaction from a JSON body.
func (h *Handlers) APICreateTransaction(w http.ResponseWriter, r *http.Request) {
	var body apiTransactionInput
	if err := decodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	t, err := h.ledger.Add(r.Context(), actor(r), ledger.TransactionInput{
		Amount:      string(body.Amount),
		Description: body.Description,
		Category:    body.Category,
		Date:        body.Date,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/transactions/%d", t.ID))
	writeJSON(w, http.StatusCreated, t)
}

// APIGetTransaction returns one transaction.
func (h *Handlers) APIGetTransaction(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, t)
}

// APIUpdateTransaction applies a partial update.
func (h *Handlers) APIUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var body apiTransactionPatch
	if err := decodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	t, err := h.ledger.Edit(r.Context(), actor(r), id, body.patch())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// APIDeleteTransaction removes a transaction.
func (h *Handlers) APIDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.ledger.Delete(r.Context(), actor(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// APICategoryTotals returns per-category totals.
func (h *Handlers) APICategoryTotals(w http.ResponseWriter, r *http.Request) {
	userID, err := targetUser(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	totals, err := h.ledger.CategoryTotals(r.Context(), actor(r), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CategoriesResponse{UserID: userID, Categories: totals})
}
