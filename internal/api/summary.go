package api

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// spentAtLayouts are the timestamp shapes the API emits for spent_at.
var spentAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// BudgetSummary is the spending state of a budget in its current month.
type BudgetSummary struct {
	Budget         Budget
	PeriodStart    time.Time
	PeriodEnd      time.Time
	LimitCents     int64
	SpentCents     int64
	RemainingCents int64
	// Expenses counted in the period.
	Expenses int
}

// SpentRatio is spent/limit clamped to [0, 1]; 0 when there is no limit.
func (s BudgetSummary) SpentRatio() float64 {
	if s.LimitCents <= 0 {
		return 0
	}
	ratio := float64(s.SpentCents) / float64(s.LimitCents)
	return min(max(ratio, 0), 1)
}

// MonthWindow returns the budget month containing now: [start, end).
// Months start on startDay, or on the last day of shorter months.
func MonthWindow(now time.Time, startDay int) (time.Time, time.Time) {
	if startDay < 1 {
		startDay = DefaultMonthStartDay
	}
	start := monthAnchor(now.Year(), now.Month(), startDay, now.Location())
	if now.Before(start) {
		start = monthAnchor(now.Year(), now.Month()-1, startDay, now.Location())
	}
	end := monthAnchor(start.Year(), start.Month()+1, startDay, now.Location())
	return start, end
}

func monthAnchor(year int, month time.Month, day int, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, -1).Day()
	return time.Date(first.Year(), first.Month(), min(day, last), 0, 0, 0, 0, loc)
}

// ParseSpentAt parses an expense timestamp. Values without a zone are read in loc.
func ParseSpentAt(value string, loc *time.Location) (time.Time, error) {
	for _, layout := range spentAtLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised spent_at %q", value)
}

// Summarize totals the expenses of budget falling into the month containing
// now. Expenses in another currency are not counted.
func Summarize(budget Budget, expenses []Expense, limitCents int64, now time.Time) (BudgetSummary, error) {
	start, end := MonthWindow(now, budget.MonthStartDay)
	summary := BudgetSummary{
		Budget:      budget,
		PeriodStart: start,
		PeriodEnd:   end,
		LimitCents:  limitCents,
	}

	for _, expense := range expenses {
		if expense.Currency != "" && !strings.EqualFold(expense.Currency, budget.Currency) {
			continue
		}
		spentAt, err := ParseSpentAt(expense.SpentAt, now.Location())
		if err != nil {
			return BudgetSummary{}, fmt.Errorf("expense %d: %w", expense.ID, err)
		}
		if spentAt.Before(start) || !spentAt.Before(end) {
			continue
		}
		summary.SpentCents += expense.AmountCents
		summary.Expenses++
	}

	summary.RemainingCents = limitCents - summary.SpentCents
	return summary, nil
}

// Summary fetches a budget with all its expenses and summarizes the current month.
func (c *Client) Summary(ctx context.Context, budgetID, limitCents int64, now time.Time) (BudgetSummary, error) {
	budget, err := c.GetBudget(ctx, budgetID)
	if err != nil {
		return BudgetSummary{}, err
	}
	expenses, err := c.ListAllExpenses(ctx, budgetID)
	if err != nil {
		return BudgetSummary{}, err
	}
	return Summarize(*budget, expenses, limitCents, now)
}
