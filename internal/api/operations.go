package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/budgetflow/budgetflow/internal/tokenstore"
)

// maxPages stops ListAllExpenses on a server that never returns a short page.
const maxPages = 1000

// ExchangeGoogleToken trades an identity token for API credentials. The call
// is unauthenticated and bypasses the refresh machinery.
func (c *Client) ExchangeGoogleToken(ctx context.Context, idToken string) (tokenstore.Pair, error) {
	in := GoogleAuthRequest{IDToken: idToken}
	if err := c.validate.Struct(in); err != nil {
		return tokenstore.Pair{}, fmt.Errorf("invalid sign-in request: %w", err)
	}

	var out TokenPair
	if err := c.do(ctx, c.plain, http.MethodPost, "v1/auth/google", nil, in, &out); err != nil {
		return tokenstore.Pair{}, err
	}
	if out.AccessToken == "" || out.RefreshToken == "" {
		return tokenstore.Pair{}, fmt.Errorf("sign-in response is missing tokens")
	}
	return tokenstore.Pair{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}, nil
}

// Me returns the signed-in user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.Do(ctx, http.MethodGet, "v1/users/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Logout invalidates the session on the server.
func (c *Client) Logout(ctx context.Context) error {
	return c.Do(ctx, http.MethodPost, "v1/users/logout", nil, nil)
}

// ListBudgets returns all budgets of the user.
func (c *Client) ListBudgets(ctx context.Context) ([]Budget, error) {
	var budgets []Budget
	if err := c.Do(ctx, http.MethodGet, "v1/budgets", nil, &budgets); err != nil {
		return nil, err
	}
	return budgets, nil
}

// CreateBudget creates a budget. MonthStartDay defaults to 1.
func (c *Client) CreateBudget(ctx context.Context, in BudgetCreate) (*Budget, error) {
	if in.MonthStartDay == 0 {
		in.MonthStartDay = DefaultMonthStartDay
	}
	if err := c.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid budget: %w", err)
	}

	var budget Budget
	if err := c.Do(ctx, http.MethodPost, "v1/budgets", in, &budget); err != nil {
		return nil, err
	}
	return &budget, nil
}

// GetBudget returns one budget.
func (c *Client) GetBudget(ctx context.Context, id int64) (*Budget, error) {
	var budget Budget
	if err := c.Do(ctx, http.MethodGet, budgetPath(id), nil, &budget); err != nil {
		return nil, err
	}
	return &budget, nil
}

// UpdateBudget changes the non-nil fields of a budget.
func (c *Client) UpdateBudget(ctx context.Context, id int64, in BudgetUpdate) (*Budget, error) {
	if err := c.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid budget update: %w", err)
	}

	var budget Budget
	if err := c.Do(ctx, http.MethodPatch, budgetPath(id), in, &budget); err != nil {
		return nil, err
	}
	return &budget, nil
}

// DeleteBudget deletes a budget and its expenses.
func (c *Client) DeleteBudget(ctx context.Context, id int64) error {
	return c.Do(ctx, http.MethodDelete, budgetPath(id), nil, nil)
}

// ListExpenses returns one page of a budget's expenses.
func (c *Client) ListExpenses(ctx context.Context, budgetID int64, page Page) ([]Expense, error) {
	if page.Page <= 0 {
		page.Page = DefaultPage
	}
	if page.PageSize <= 0 {
		page.PageSize = DefaultPageSize
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page.Page))
	query.Set("page_size", strconv.Itoa(page.PageSize))

	var expenses []Expense
	if err := c.do(ctx, c.authed, http.MethodGet, budgetPath(budgetID)+"/expenses", query, nil, &expenses); err != nil {
		return nil, err
	}
	return expenses, nil
}

// ListAllExpenses walks every page of a budget's expenses.
func (c *Client) ListAllExpenses(ctx context.Context, budgetID int64) ([]Expense, error) {
	var all []Expense
	for page := DefaultPage; page < DefaultPage+maxPages; page++ {
		batch, err := c.ListExpenses(ctx, budgetID, Page{Page: page, PageSize: DefaultPageSize})
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < DefaultPageSize {
			return all, nil
		}
	}
	return nil, fmt.Errorf("listing expenses of budget %d: more than %d pages", budgetID, maxPages)
}

// CreateExpense adds an expense to a budget.
func (c *Client) CreateExpense(ctx context.Context, budgetID int64, in ExpenseCreate) (*Expense, error) {
	if err := c.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid expense: %w", err)
	}

	var expense Expense
	if err := c.Do(ctx, http.MethodPost, budgetPath(budgetID)+"/expenses", in, &expense); err != nil {
		return nil, err
	}
	return &expense, nil
}

// UpdateExpense changes the non-nil fields of an expense.
func (c *Client) UpdateExpense(ctx context.Context, id int64, in ExpenseUpdate) (*Expense, error) {
	if err := c.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid expense update: %w", err)
	}

	var expense Expense
	if err := c.Do(ctx, http.MethodPatch, expensePath(id), in, &expense); err != nil {
		return nil, err
	}
	return &expense, nil
}

// DeleteExpense deletes an expense.
func (c *Client) DeleteExpense(ctx context.Context, id int64) error {
	return c.Do(ctx, http.MethodDelete, expensePath(id), nil, nil)
}

func budgetPath(id int64) string {
	return "v1/budgets/" + strconv.FormatInt(id, 10)
}

func expensePath(id int64) string {
	return "v1/expenses/" + strconv.FormatInt(id, 10)
}
