package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/budgetflow/budgetflow/internal/api"
	"github.com/budgetflow/budgetflow/internal/app"
)

func budgetsCommand() *cli.Command {
	return &cli.Command{
		Name:  "budgets",
		Usage: "manage budgets",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "list budgets",
				Action: withApp(budgetsListAction),
			},
			{
				Name:      "get",
				Usage:     "show a budget",
				ArgsUsage: "<budget-id>",
				Action:    withApp(budgetsGetAction),
			},
			{
				Name:  "create",
				Usage: "create a budget",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "budget name", Required: true},
					&cli.StringFlag{Name: "currency", Usage: "ISO 4217 currency code", Required: true},
					&cli.IntFlag{Name: "month-start-day", Usage: "day of month the budget period starts", Value: api.DefaultMonthStartDay},
				},
				Action: withApp(budgetsCreateAction),
			},
			{
				Name:      "update",
				Usage:     "change a budget",
				ArgsUsage: "<budget-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "budget name"},
					&cli.StringFlag{Name: "currency", Usage: "ISO 4217 currency code"},
					&cli.IntFlag{Name: "month-start-day", Usage: "day of month the budget period starts"},
				},
				Action: withApp(budgetsUpdateAction),
			},
			{
				Name:      "delete",
				Usage:     "delete a budget and its expenses",
				ArgsUsage: "<budget-id>",
				Action:    withApp(budgetsDeleteAction),
			},
			{
				Name:      "summary",
				Usage:     "show spending in the current budget month",
				ArgsUsage: "<budget-id>",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "limit", Usage: "monthly limit in minor currency units (cents)"},
				},
				Action: withApp(budgetsSummaryAction),
			},
		},
	}
}

func budgetsListAction(ctx context.Context, cmd *cli.Command, application *app.App) error {
	budgets, err := application.Client().ListBudgets(ctx)
	if err != nil {
		return err
	}
	return printBudgets(cmd.Root().Writer, budgets)
}

func budgetsGetAction(ctx context.Context, cmd *cli.Command, application *app.App) error {
	id, err := idArg(cmd, "budget")
	if err != nil {
		return err
	}
	budget, err := application.Client().GetBudget(ctx, id)
	if err != nil {
		return err
	}
	return printBudgets(cmd.Root().Writer, []api.Budget{*budget})
}

func budgetsCreateAction(ctx context.Context, cmd *cli.Command, application *app.App) error {
	budget, err := application.Client().CreateBudget(ctx, api.BudgetCreate{
		Name:          cmd.String("name"),
		Currency:      strings.ToUpper(cmd.String("currency")),
		MonthStartDay: cmd.Int("month-start-day"),
	})
	if err != nil {
		return err
	}
	return printBudgets(cmd.Root().Writer, []api.Budget{*budget})
}

func budgetsUpdateAction(ctx context.Context, cmd *cli.Command, application *app.App) error {
	id, err := idArg(cmd, "budget")
	if err != nil {
		return err
	}

	update := api.BudgetUpdate{
		Name:     optionalString(cmd, "name"),
		Currency: optionalString(cmd, "currency"),
	}
	if cmd.IsSet("month-start-day") {
		day := cmd.Int("month-start-day")
		update.MonthStartDay = &day
	}

	budget, err := application.Client().UpdateBudget(ctx, id, update)
	if err != nil {
		return err
	}
	return printBudgets(cmd.Root().Writer, []api.Budget{*budget})
}

func budgetsDeleteAction(ctx context.Context, cmd *cli.Command, application *app.App) error {
	id, err := idArg(cmd, "budget")
	if err != nil {
		return err
	}
	if err := application.Client().DeleteBudget(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "Deleted budget %d.\n", id)
	return nil
}

func budgetsSummaryAction(ctx context.Context, cmd *cli.Command, application *app.App) error {
	id, err := idArg(cmd, "budget")
	if err != nil {
		return err
	}
	summary, err := application.Client().Summary(ctx, id, cmd.Int64("limit"), timeNow())
	if err != nil {
		return err
	}
	return printSummary(cmd.Root().Writer, summary)
}
