package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zulandar/postavshik/internal/auth"
	"github.com/zulandar/postavshik/internal/directory"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the stored marketplace credential",
	}

	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthLogoutCmd())
	cmd.AddCommand(newAuthStatusCmd())
	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the access token",
		Long:  "Exchanges email and password for an access token. The password is read from the terminal, or from stdin when piped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogin(cmd, email)
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "account email (prompted when empty)")
	return cmd
}

func runAuthLogin(cmd *cobra.Command, email string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	in := bufio.NewReader(cmd.InOrStdin())

	email = strings.TrimSpace(email)
	if email == "" {
		fmt.Fprint(out, "Email: ")
		line, err := readLine(in)
		if err != nil {
			return fmt.Errorf("read email: %w", err)
		}
		email = line
	}
	if email == "" {
		return errors.New("email is required")
	}

	fmt.Fprint(out, "Password: ")
	password, err := readPassword(cmd, in)
	fmt.Fprintln(out)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	res, err := a.dir.Login(cmd.Context(), email, password)
	if errors.Is(err, directory.ErrAuthFailed) {
		return errors.New("login failed: check email and password")
	}
	if err != nil {
		return err
	}
	if err := a.auth.Set(cmd.Context(), res.Access); err != nil {
		return err
	}

	who := email
	if info := auth.Inspect(res.Access); info.Subject != "" {
		who = info.Subject
	}
	fmt.Fprintf(out, "Logged in as %s\n", who)
	return nil
}

// readPassword reads without echo from a terminal; piped input is read as
// a plain line.
func readPassword(cmd *cobra.Command, in *bufio.Reader) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return readLine(in)
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.auth.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			tok := a.auth.Token()
			if tok == "" {
				fmt.Fprintln(out, "Not logged in")
				return nil
			}
			info := auth.Inspect(tok)
			if info.Opaque {
				fmt.Fprintln(out, "Logged in (opaque token)")
				return nil
			}
			fmt.Fprintf(out, "Logged in as %s\n", orDash(info.Subject))
			if info.UserID != "" {
				fmt.Fprintf(out, "User ID:  %s\n", info.UserID)
			}
			if !info.ExpiresAt.IsZero() {
				state := "valid"
				if info.Expired(time.Now()) {
					state = "expired"
				}
				fmt.Fprintf(out, "Expires:  %s (%s)\n", info.ExpiresAt.Local().Format(time.RFC1123), state)
			}
			return nil
		},
	}
}
