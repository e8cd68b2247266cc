package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/budgetflow/budgetflow/internal/authtransport"
	"github.com/budgetflow/budgetflow/internal/tokenstore"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	kv, err := tokenstore.NewFileKV(filepath.Join(t.TempDir(), "auth.json"))
	require.NoError(t, err)
	store, err := tokenstore.NewKVStore(kv)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), tokenstore.Pair{AccessToken: "a1", RefreshToken: "r1"}))

	client, err := New(srv.URL, &authtransport.Transport{Store: store})
	require.NoError(t, err)
	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestNew_InvalidBaseURL(t *testing.T) {
	_, err := New("not a url", http.DefaultTransport)
	require.Error(t, err)

	_, err = New("https://api.example.com", nil)
	require.Error(t, err)
}

func TestClient_SendsJSONWithCredentialsAndRequestID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/budgets", r.URL.Path)
		assert.Equal(t, "Bearer a1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Len(t, r.Header.Get(RequestIDHeader), 36)

		var in BudgetCreate
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, BudgetCreate{Name: "Groceries", Currency: "EUR", MonthStartDay: 1}, in)

		writeJSON(t, w, http.StatusCreated, Budget{ID: 7, Name: in.Name, Currency: in.Currency, MonthStartDay: in.MonthStartDay})
	})

	budget, err := client.CreateBudget(context.Background(), BudgetCreate{Name: "Groceries", Currency: "EUR"})
	require.NoError(t, err)
	assert.Equal(t, &Budget{ID: 7, Name: "Groceries", Currency: "EUR", MonthStartDay: 1}, budget)
}

func TestClient_ValidatesPayloadsBeforeSending(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	})
	ctx := context.Background()

	_, err := client.CreateBudget(ctx, BudgetCreate{Name: "", Currency: "EUR"})
	require.Error(t, err)

	_, err = client.CreateBudget(ctx, BudgetCreate{Name: "Trip", Currency: "eur"})
	require.Error(t, err)

	_, err = client.CreateExpense(ctx, 1, ExpenseCreate{AmountCents: 0, Currency: "EUR", SpentAt: "2025-01-02"})
	require.Error(t, err)

	day := 40
	_, err = client.UpdateBudget(ctx, 1, BudgetUpdate{MonthStartDay: &day})
	require.Error(t, err)

	_, err = client.ExchangeGoogleToken(ctx, "")
	require.Error(t, err)
}

func TestClient_HTTPErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		category Category
		message  string
		describe string
	}{
		{
			name:     "detail string",
			status:   http.StatusNotFound,
			body:     `{"detail":"Budget not found"}`,
			category: CategoryNotFound,
			message:  "Budget not found",
			describe: "Not found",
		},
		{
			name:     "validation detail list",
			status:   http.StatusUnprocessableEntity,
			body:     `{"detail":[{"loc":["body","name"],"msg":"field required"},{"msg":"bad currency"}]}`,
			category: CategoryInvalidRequest,
			message:  "field required; bad currency",
			describe: "Invalid request: field required; bad currency",
		},
		{
			name:     "forbidden",
			status:   http.StatusForbidden,
			category: CategoryAccessDenied,
			describe: "Access denied",
		},
		{
			name:     "server error with html body",
			status:   http.StatusBadGateway,
			body:     `<html>bad gateway</html>`,
			category: CategoryServerError,
			describe: "Server error. Please try again later.",
		},
		{
			name:     "conflict",
			status:   http.StatusConflict,
			category: CategoryOther,
			describe: "Request failed: 409 Conflict",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := client.GetBudget(context.Background(), 3)

			var httpErr *HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.status, httpErr.Status)
			assert.Equal(t, "v1/budgets/3", httpErr.Path)
			assert.Equal(t, tt.category, httpErr.Category())
			assert.Equal(t, tt.message, httpErr.Message)
			assert.Equal(t, tt.describe, Describe(err))
		})
	}
}

func TestClient_AuthenticationFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.Me(context.Background())
	require.ErrorIs(t, err, authtransport.ErrAuthenticationFailed)
	assert.True(t, IsAuthenticationFailure(err))
	assert.Equal(t, "Authentication failed. Please sign in again.", Describe(err))

	var httpErr *HTTPError
	assert.False(t, errors.As(err, &httpErr))
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	client, err := New(baseURL, http.DefaultTransport)
	require.NoError(t, err)

	_, err = client.ListBudgets(context.Background())
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.False(t, netErr.Timeout())
	assert.Equal(t, "No internet connection", Describe(err))
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	client, err := New(srv.URL, http.DefaultTransport, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	_, err = client.ListBudgets(context.Background())
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
	assert.Equal(t, "Request timed out. Please try again.", Describe(err))
}

func TestClient_CancelledContextIsNotNetworkError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []Budget{})
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.ListBudgets(ctx)
	require.ErrorIs(t, err, context.Canceled)
	var netErr *NetworkError
	assert.False(t, errors.As(err, &netErr))
}

func TestClient_ListExpensesPagination(t *testing.T) {
	total := DefaultPageSize + 3
	var pages []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/budgets/4/expenses", r.URL.Path)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
		pages = append(pages, r.URL.Query().Get("page"))

		var out []Expense
		for i := (page - 1) * size; i < min(page*size, total); i++ {
			out = append(out, Expense{ID: int64(i + 1), BudgetID: 4, AmountCents: 100, Currency: "EUR", SpentAt: "2025-03-01"})
		}
		writeJSON(t, w, http.StatusOK, out)
	})

	first, err := client.ListExpenses(context.Background(), 4, Page{})
	require.NoError(t, err)
	assert.Len(t, first, DefaultPageSize)

	all, err := client.ListAllExpenses(context.Background(), 4)
	require.NoError(t, err)
	assert.Len(t, all, total)
	assert.Equal(t, []string{"1", "1", "2"}, pages)
}

func TestClient_ExchangeGoogleTokenIsUnauthenticated(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/auth/google", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		var in GoogleAuthRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "google-id-token", in.IDToken)

		writeJSON(t, w, http.StatusOK, TokenPair{AccessToken: "a9", RefreshToken: "r9"})
	})

	pair, err := client.ExchangeGoogleToken(context.Background(), "google-id-token")
	require.NoError(t, err)
	assert.Equal(t, tokenstore.Pair{AccessToken: "a9", RefreshToken: "r9"}, pair)
}

func TestClient_ExchangeGoogleTokenRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"Invalid Google token"}`)
	})

	_, err := client.ExchangeGoogleToken(context.Background(), "expired")
	require.Error(t, err)
	assert.True(t, IsAuthenticationFailure(err))
}

func TestClient_DeleteAndUpdate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "DELETE /v1/expenses/12":
			w.WriteHeader(http.StatusNoContent)
		case "PATCH /v1/expenses/12":
			raw, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"amount_cents":2599}`, string(raw), "nil fields are omitted")
			writeJSON(t, w, http.StatusOK, Expense{ID: 12, AmountCents: 2599, Currency: "EUR", SpentAt: "2025-03-04"})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	amount := int64(2599)
	expense, err := client.UpdateExpense(context.Background(), 12, ExpenseUpdate{AmountCents: &amount})
	require.NoError(t, err)
	assert.Equal(t, int64(2599), expense.AmountCents)

	require.NoError(t, client.DeleteExpense(context.Background(), 12))
}
