package commands

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/budgetflow/budgetflow/internal/api"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func printBudgets(w io.Writer, budgets []api.Budget) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tCURRENCY\tMONTH START")
	for _, b := range budgets {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", b.ID, b.Name, b.Currency, b.MonthStartDay)
	}
	return tw.Flush()
}

func printExpenses(w io.Writer, expenses []api.Expense) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tSPENT AT\tAMOUNT\tMERCHANT\tNOTE")
	for _, e := range expenses {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			e.ID, e.SpentAt, formatAmount(e.AmountCents, e.Currency), deref(e.Merchant), deref(e.Note))
	}
	return tw.Flush()
}

func printSummary(w io.Writer, s api.BudgetSummary) error {
	const day = "2006-01-02"
	tw := newTable(w)
	fmt.Fprintf(tw, "Budget:\t%s (#%d)\n", s.Budget.Name, s.Budget.ID)
	fmt.Fprintf(tw, "Period:\t%s to %s\n", s.PeriodStart.Format(day), s.PeriodEnd.AddDate(0, 0, -1).Format(day))
	fmt.Fprintf(tw, "Expenses:\t%d\n", s.Expenses)
	fmt.Fprintf(tw, "Spent:\t%s\n", formatAmount(s.SpentCents, s.Budget.Currency))
	if s.LimitCents > 0 {
		fmt.Fprintf(tw, "Limit:\t%s\n", formatAmount(s.LimitCents, s.Budget.Currency))
		fmt.Fprintf(tw, "Remaining:\t%s\n", formatAmount(s.RemainingCents, s.Budget.Currency))
		fmt.Fprintf(tw, "Used:\t%.0f%%\n", s.SpentRatio()*100)
	}
	return tw.Flush()
}

// formatAmount renders minor units as "12.34 EUR".
func formatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currency)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// idArg parses the first positional argument as a resource ID.
func idArg(cmd *cli.Command, what string) (int64, error) {
	raw := cmd.Args().First()
	if raw == "" {
		return 0, fmt.Errorf("missing %s ID", what)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s ID: %q", what, raw)
	}
	return id, nil
}

// optionalString returns a pointer to the flag value when it was set.
func optionalString(cmd *cli.Command, name string) *string {
	if !cmd.IsSet(name) {
		return nil
	}
	v := cmd.String(name)
	return &v
}
