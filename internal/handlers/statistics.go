package handlers

import (
	"net/http"

	"github.com/shopspring/decimal"
)

// StatsCategoryItem represents a category with its totals.
type StatsCategoryItem struct {
	Category      string
	Total         decimal.Decimal
	Count         int
	Share         string
	CategoryStyle CategoryStyle
}

// StatsViewModel is the data passed to the categories template.
type StatsViewModel struct {
	View
	UserID     int64
	Net        decimal.Decimal
	Income     decimal.Decimal
	Spending   decimal.Decimal
	Categories []StatsCategoryItem
}

var hundred = decimal.NewFromInt(100)

// Categories renders per-category totals, largest first.
func (h *Handlers) Categories(w http.ResponseWriter, r *http.Request) {
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

	// Shares are of the absolute volume, so income and spending both count.
	volume := decimal.Zero
	vm := StatsViewModel{View: h.view(w, r), UserID: userID}
	for _, ct := range totals {
		volume = volume.Add(ct.Total.Abs())
		vm.Net = vm.Net.Add(ct.Total)
		if ct.Total.IsPositive() {
			vm.Income = vm.Income.Add(ct.Total)
		} else {
			vm.Spending = vm.Spending.Add(ct.Total)
		}
	}

	vm.Categories = make([]StatsCategoryItem, 0, len(totals))
	for _, ct := range totals {
		share := decimal.Zero
		if volume.IsPositive() {
			share = ct.Total.Abs().Mul(hundred).Div(volume)
		}
		vm.Categories = append(vm.Categories, StatsCategoryItem{
			Category:      ct.Category,
			Total:         ct.Total,
			Count:         ct.Count,
			Share:         share.StringFixed(1),
			CategoryStyle: getCategoryStyle(ct.Category),
		})
	}

	h.render(w, r, "categories.html", vm)
}
