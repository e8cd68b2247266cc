package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/budgetflow/budgetflow/internal/api"
	"github.com/budgetflow/budgetflow/internal/app"
)

func expensesCommand() *cli.Command {
	return &cli.Command{
		Name:  "expenses",
		Usage: "manage the expenses of a budget",
		Commands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "list expenses of a budget",
				ArgsUsage: "<budget-id>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "page", Usage: "page number", Value: api.DefaultPage},
					&cli.IntFlag{Name: "page-size", Usage: "expenses per page", Value: api.DefaultPageSize},
					&cli.BoolFlag{Name: "all", Usage: "fetch every page"},
				},
				Action: withApp(expensesListAction),
			},
			{
				Name:      "create",
				Usage:     "record an expense",
				ArgsUsage: "<budget-id>",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "amount", Usage: "amount in minor currency units (cents)", Required: true},
					&cli.StringFlag{Name: "currency", Usage: "ISO 4217 currency code", Required: true},
					&cli.StringFlag{Name: "spent-at", Usage: "ISO 8601 date or date-time (defaults to today)"},
					&cli.StringFlag{Name: "merchant", Usage: "merchant name"},
					&cli.StringFlag{Name: "note", Usage: "free-form note"},
				},
				Action: withApp(expensesCreateAction),
			},
			{
				Name:      "update",
				Usage:     "change an expense",
				ArgsUsage: "<expense-id>",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "amount", Usage: "amount in minor currency units (cents)"},
					&cli.StringFlag{Name: "spent-at", Usage: "ISO 8601 date or date-time"},
					&cli.StringFlag{Name: "merchant", Usage: "merchant name"},
					&cli.StringFlag{Name: "note", Usage: "free-form note"},
				},
				Action: withApp(expensesUpdateAction),
			},
			{
				Name:      "delete",
				Usage:     "delete an expense",
				ArgsUsage: "<expense-id>",
				Action:    withApp(expensesDeleteAction),
			},
		},
	}
}

func expensesListAction(ctx context.Context, cmd *cli.Command, application *app.App) error {
	budgetID, err := idArg(cmd, "budget")
	if err != nil {
		return err
	}

	var expenses []api.Expense
	if cmd.Bool("all") {
		expenses, err = application.Client().ListAllExpenses(ctx, budgetID)
	} else {
		expenses, err = application.Client().ListExpenses(ctx, budgetID, api.Page{
			Page:     cmd.Int("page"),
			PageSize: cmd.Int("page-size"),
		})
	}
	if err != nil {
		return err
	}
	return printExpenses(cmd.Root().Writer, expenses)
}

func expensesCreateAction(ctx context.Context, cmd *cli.Command, application *app.App) error {
	budgetID, err := idArg(cmd, "budget")
	if err != nil {
		return err
	}

	spentAt := cmd.String("spent-at")
	if spentAt == "" {
		spentAt = timeNow().Format("2006-01-02")
	}

	expense, err := application.Client().CreateExpense(ctx, budgetID, api.ExpenseCreate{
		AmountCents: cmd.Int64("amount"),
		Currency:    strings.ToUpper(cmd.String("currency")),
		SpentAt:     spentAt,
		Merchant:    optionalString(cmd, "merchant"),
		Note:        optionalString(cmd, "note"),
	})
	if err != nil {
		return err
	}
	return printExpenses(cmd.Root().Writer, []api.Expense{*expense})
}

func expensesUpdateAction(ctx context.Context, cmd *cli.Command, application *app.App) error {
	id, err := idArg(cmd, "expense")
	if err != nil {
		return err
	}

	update := api.ExpenseUpdate{
		SpentAt:  optionalString(cmd, "spent-at"),
		Merchant: optionalString(cmd, "merchant"),
		Note:     optionalString(cmd, "note"),
	}
	if cmd.IsSet("amount") {
		amount := cmd.Int64("amount")
		update.AmountCents = &amount
	}

	expense, err := application.Client().UpdateExpense(ctx, id, update)
	if err != nil {
		return err
	}
	return printExpenses(cmd.Root().Writer, []api.Expense{*expense})
}

func expensesDeleteAction(ctx context.Context, cmd *cli.Command, application *app.App) error {
	id, err := idArg(cmd, "expense")
	if err != nil {
		return err
	}
	if err := application.Client().DeleteExpense(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "Deleted expense %d.\n", id)
	return nil
}
