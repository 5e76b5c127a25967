package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	"ledger/internal/ledger"
	"ledger/internal/models"
)

func (s *HandlersTestSuite) token(username string) string {
	rec := s.apiRequest(http.MethodPost, "/api/v1/auth/token", "", `{"username":"`+username+`","password":"`+testPassword+`"}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var resp TokenResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Require().NotEmpty(resp.Token)
	s.Equal("Bearer", resp.TokenType)
	return resp.Token
}

func (s *HandlersTestSuite) apiRequest(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.do(req)
}

func (s *HandlersTestSuite) decodeError(rec *httptest.ResponseRecorder) ErrorResponse {
	s.Equal("application/json", rec.Header().Get("Content-Type"))
	var body ErrorResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal("error", body.Status)
	s.Equal(rec.Code, body.Code)
	s.Equal(http.StatusText(rec.Code), body.Error)
	return body
}

func (s *HandlersTestSuite) TestAPITokenRejectsBadCredentials() {
	rec := s.apiRequest(http.MethodPost, "/api/v1/auth/token", "", `{"username":"alice","password":"nope"}`)
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.decodeError(rec)

	rec = s.apiRequest(http.MethodPost, "/api/v1/auth/token", "", `{"username":"alice"}`)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.apiRequest(http.MethodPost, "/api/v1/auth/token", "", "")
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("Request body must not be empty", s.decodeError(rec).Message)
}

func (s *HandlersTestSuite) TestAPIRequiresValidToken() {
	rec := s.apiRequest(http.MethodGet, "/api/v1/transactions", "", "")
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.decodeError(rec)

	rec = s.apiRequest(http.MethodGet, "/api/v1/transactions", "not-a-jwt", "")
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal("Invalid or expired token.", s.decodeError(rec).Message)
}

func (s *HandlersTestSuite) TestAPITransactionLifecycle() {
	token := s.token("alice")

	rec := s.apiRequest(http.MethodPost, "/api/v1/transactions", token,
		`{"amount":"12.50","description":"weekly shop","category":"Groceries","date":"2024-03-01"}`)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var created models.Transaction
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &created))
	s.Equal("12.5", created.Amount.String())
	s.Equal("Groceries", created.Category)
	s.Equal("2024-03-01", created.DateString())
	s.Equal(s.alice.ID, created.UserID)
	s.Equal("/api/v1/transactions/"+itoa(created.ID), rec.Header().Get("Location"))

	rec = s.apiRequest(http.MethodGet, "/api/v1/transactions/"+itoa(created.ID), token, "")
	s.Require().Equal(http.StatusOK, rec.Code)

	// Amounts may be JSON numbers too.
	rec = s.apiRequest(http.MethodPatch, "/api/v1/transactions/"+itoa(created.ID), token, `{"amount":-4.75}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var updated models.Transaction
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &updated))
	s.Equal("-4.75", updated.Amount.String())
	s.Equal("weekly shop", updated.Description)

	rec = s.apiRequest(http.MethodGet, "/api/v1/transactions", token, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var page ledger.Page
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &page))
	s.Equal(1, page.Total)
	s.Equal(3, page.PageSize)
	s.Equal([]string{"Groceries"}, page.Categories)

	rec = s.apiRequest(http.MethodGet, "/api/v1/transactions/categories", token, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var totals CategoriesResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &totals))
	s.Require().Len(totals.Categories, 1)
	s.Equal("-4.75", totals.Categories[0].Total.String())

	rec = s.apiRequest(http.MethodDelete, "/api/v1/transactions/"+itoa(created.ID), token, "")
	s.Equal(http.StatusNoContent, rec.Code)

	rec = s.apiRequest(http.MethodGet, "/api/v1/transactions/"+itoa(created.ID), token, "")
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal("Transaction not found", s.decodeError(rec).Message)
}

func (s *HandlersTestSuite) TestAPIValidation() {
	token := s.token("alice")

	tests := []struct {
		name string
		body string
	}{
		{"bad amount", `{"amount":"abc","date":"2024-03-01"}`},
		{"bad date", `{"amount":"1","date":"03/01/2024"}`},
		{"missing date", `{"amount":"1"}`},
		{"unknown field", `{"amount":"1","date":"2024-03-01","budget":5}`},
		{"malformed", `{"amount":`},
		{"reserved category", `{"amount":"1","date":"2024-03-01","category":"all"}`},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			rec := s.apiRequest(http.MethodPost, "/api/v1/transactions", token, tt.body)
			s.Equal(http.StatusBadRequest, rec.Code)
			s.NotEmpty(s.decodeError(rec).Message)
		})
	}
	s.Equal(0, s.count(s.alice.ID), "no invalid input was stored")
}

func (s *HandlersTestSuite) TestAPIOwnership() {
	alice := s.token("alice")
	bob := s.token("bob")
	root := s.token("root")

	rec := s.apiRequest(http.MethodPost, "/api/v1/transactions", alice, `{"amount":"10","date":"2024-03-01"}`)
	s.Require().Equal(http.StatusCreated, rec.Code)
	var created models.Transaction
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &created))
	path := "/api/v1/transactions/" + itoa(created.ID)

	rec = s.apiRequest(http.MethodGet, path, bob, "")
	s.Equal(http.StatusForbidden, rec.Code)
	s.decodeError(rec)

	rec = s.apiRequest(http.MethodPatch, path, bob, `{"amount":"1"}`)
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.apiRequest(http.MethodDelete, path, bob, "")
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.apiRequest(http.MethodGet, "/api/v1/transactions?user_id="+itoa(s.alice.ID), bob, "")
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.apiRequest(http.MethodGet, "/api/v1/transactions/categories?user_id="+itoa(s.alice.ID), bob, "")
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.apiRequest(http.MethodGet, "/api/v1/transactions?user_id="+itoa(s.alice.ID), root, "")
	s.Equal(http.StatusOK, rec.Code)

	rec = s.apiRequest(http.MethodGet, "/api/v1/transactions?user_id=abc", alice, "")
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.apiRequest(http.MethodDelete, path, root, "")
	s.Equal(http.StatusNoContent, rec.Code)
}

func (s *HandlersTestSuite) TestAPIUnknownRoutes() {
	rec := s.apiRequest(http.MethodGet, "/api/v1/budgets", "", "")
	s.Equal(http.StatusNotFound, rec.Code)
	s.decodeError(rec)

	rec = s.apiRequest(http.MethodPut, "/api/v1/transactions/1", "", "")
	s.Equal(http.StatusMethodNotAllowed, rec.Code)
	s.decodeError(rec)
	allow := rec.Header().Get("Allow")
	s.Contains(allow, http.MethodGet)
	s.Contains(allow, http.MethodPatch)
	s.Contains(allow, http.MethodDelete)
}
