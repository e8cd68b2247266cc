package api

// Amounts are integer minor currency units (cents).

// TokenPair is returned by the sign-in exchange and the refresh endpoint.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// GoogleAuthRequest exchanges a Google identity token for API credentials.
type GoogleAuthRequest struct {
	IDToken string `json:"id_token" validate:"required"`
}

// User is the signed-in account.
type User struct {
	ID        int64   `json:"id"`
	Email     string  `json:"email"`
	Name      *string `json:"name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// Budget groups expenses in one currency. Its month starts on MonthStartDay.
type Budget struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Currency      string `json:"currency"`
	MonthStartDay int    `json:"month_start_day"`
}

// DefaultMonthStartDay is used when BudgetCreate leaves MonthStartDay unset.
const DefaultMonthStartDay = 1

// BudgetCreate is the payload of POST v1/budgets.
type BudgetCreate struct {
	Name          string `json:"name" validate:"required,max=100"`
	Currency      string `json:"currency" validate:"required,len=3,uppercase"`
	MonthStartDay int    `json:"month_start_day" validate:"min=1,max=31"`
}

// BudgetUpdate is the payload of PATCH v1/budgets/{id}. Nil fields are left unchanged.
type BudgetUpdate struct {
	Name          *string `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Currency      *string `json:"currency,omitempty" validate:"omitempty,len=3,uppercase"`
	MonthStartDay *int    `json:"month_start_day,omitempty" validate:"omitempty,min=1,max=31"`
}

// Expense is a single spending entry of a budget. SpentAt is an ISO 8601
// date or date-time as sent by the API.
type Expense struct {
	ID          int64   `json:"id"`
	BudgetID    int64   `json:"budget_id"`
	AmountCents int64   `json:"amount_cents"`
	Currency    string  `json:"currency"`
	SpentAt     string  `json:"spent_at"`
	Merchant    *string `json:"merchant,omitempty"`
	Note        *string `json:"note,omitempty"`
}

// ExpenseCreate is the payload of POST v1/budgets/{id}/expenses.
type ExpenseCreate struct {
	AmountCents int64   `json:"amount_cents" validate:"gt=0"`
	Currency    string  `json:"currency" validate:"required,len=3,uppercase"`
	SpentAt     string  `json:"spent_at" validate:"required"`
	Merchant    *string `json:"merchant,omitempty" validate:"omitempty,max=200"`
	Note        *string `json:"note,omitempty" validate:"omitempty,max=1000"`
}

// ExpenseUpdate is the payload of PATCH v1/expenses/{id}. Nil fields are left unchanged.
type ExpenseUpdate struct {
	AmountCents *int64  `json:"amount_cents,omitempty" validate:"omitempty,gt=0"`
	SpentAt     *string `json:"spent_at,omitempty"`
	Merchant    *string `json:"merchant,omitempty" validate:"omitempty,max=200"`
	Note        *string `json:"note,omitempty" validate:"omitempty,max=1000"`
}

// Page selects a page of a listing. Zero values use the API defaults.
type Page struct {
	Page     int
	PageSize int
}

const (
	DefaultPage     = 1
	DefaultPageSize = 50
)
