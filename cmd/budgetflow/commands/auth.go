package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/budgetflow/budgetflow/internal/api"
	"github.com/budgetflow/budgetflow/internal/app"
)

// readPassword reads without echo; replaced in tests.
var readPassword = term.ReadPassword

var errEmptyIDToken = errors.New("an ID token is required")

func signInCommand() *cli.Command {
	return &cli.Command{
		Name:  "signin",
		Usage: "exchange a Google ID token for BudgetFlow credentials",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "id-token",
				Usage: "Google ID token (prompted for when omitted)",
			},
		},
		Action: withApp(signInAction),
	}
}

func signInAction(ctx context.Context, cmd *cli.Command, application *app.App) error {
	idToken := cmd.String("id-token")
	if idToken == "" {
		var err error
		idToken, err = promptIDToken(cmd.Root().Reader, cmd.Root().ErrWriter)
		if err != nil {
			return err
		}
	}

	if _, err := application.Session().SignIn(ctx, idToken); err != nil {
		return fmt.Errorf("sign-in failed: %w", err)
	}

	out := cmd.Root().Writer
	user, err := application.Client().Me(ctx)
	if err != nil {
		slog.DebugContext(ctx, "fetching profile after sign-in failed", "error", err)
		fmt.Fprintln(out, "Signed in.")
		return nil
	}
	fmt.Fprintf(out, "Signed in as %s.\n", user.Email)
	return nil
}

// promptIDToken reads the token without echo from a terminal, or a single
// line from piped input.
func promptIDToken(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Google ID token: ")
		raw, err := readPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("reading ID token: %w", err)
		}
		return nonEmptyToken(string(raw))
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading ID token: %w", err)
	}
	return nonEmptyToken(line)
}

func nonEmptyToken(raw string) (string, error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		return "", errEmptyIDToken
	}
	return token, nil
}

func signOutCommand() *cli.Command {
	return &cli.Command{
		Name:   "signout",
		Usage:  "revoke the session and remove stored credentials",
		Action: withApp(signOutAction),
	}
}

func signOutAction(ctx context.Context, cmd *cli.Command, application *app.App) error {
	if err := application.Session().SignOut(ctx); err != nil {
		return fmt.Errorf("sign-out failed: %w", err)
	}
	fmt.Fprintln(cmd.Root().Writer, "Signed out.")
	return nil
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "show the stored session without contacting the server",
		Action: withApp(statusAction),
	}
}

func statusAction(ctx context.Context, cmd *cli.Command, application *app.App) error {
	status, err := application.Session().Status(ctx)
	if err != nil {
		return err
	}

	out := cmd.Root().Writer
	if !status.SignedIn {
		fmt.Fprintln(out, "Not signed in.")
		return nil
	}

	fmt.Fprintln(out, "Signed in.")
	fmt.Fprintf(out, "Refresh token: %s\n", yesNo(status.CanRefresh))
	if status.Claims == nil {
		return nil
	}
	if status.Claims.Subject != "" {
		fmt.Fprintf(out, "Subject: %s\n", status.Claims.Subject)
	}
	if !status.Claims.ExpiresAt.IsZero() {
		now := timeNow()
		state := "valid"
		if status.Expired(now) {
			state = "expired"
		}
		fmt.Fprintf(out, "Access token: %s until %s\n", state, status.Claims.ExpiresAt.Local().Format(time.RFC3339))
	}
	return nil
}

func whoAmICommand() *cli.Command {
	return &cli.Command{
		Name:   "whoami",
		Usage:  "show the signed-in account",
		Action: withApp(whoAmIAction),
	}
}

func whoAmIAction(ctx context.Context, cmd *cli.Command, application *app.App) error {
	user, err := application.Client().Me(ctx)
	if err != nil {
		return err
	}
	printUser(cmd.Root().Writer, user)
	return nil
}

func printUser(w io.Writer, user *api.User) {
	fmt.Fprintf(w, "ID: %d\n", user.ID)
	fmt.Fprintf(w, "Email: %s\n", user.Email)
	if user.Name != nil {
		fmt.Fprintf(w, "Name: %s\n", *user.Name)
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
