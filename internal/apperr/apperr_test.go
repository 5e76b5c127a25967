package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindNotFound, http.StatusNotFound},
		{KindMethodNotAllowed, http.StatusMethodNotAllowed},
		{KindPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindDatabase, http.StatusInternalServerError},
		{KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.Status())
		})
	}
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("edit transaction: %w", Forbidden("not yours"))
	assert.Equal(t, KindForbidden, KindOf(err))
	assert.True(t, Is(err, KindForbidden))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestPublicMessageHidesInternals(t *testing.T) {
	dbErr := Database(errors.New("no such table: transactions"))
	assert.Equal(t, "A database error occurred.", PublicMessage(dbErr))
	assert.NotContains(t, PublicMessage(dbErr), "no such table")

	assert.Equal(t, "An unexpected error has occurred. Please try again later.",
		PublicMessage(errors.New("nil pointer dereference")))

	assert.Equal(t, "Invalid amount", PublicMessage(Validation("Invalid amount")))
	assert.Equal(t, "Authentication required.", PublicMessage(Unauthorized("")))
}
