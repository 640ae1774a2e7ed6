// ABOUTME: Login, verify and logout commands
// ABOUTME: Prompts for credentials and a one-time code when running in a terminal

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bobbytumur/portalctl/internal/session"
	"github.com/bobbytumur/portalctl/internal/tui/icons"
	"github.com/bobbytumur/portalctl/internal/tui/pending"
	"github.com/bobbytumur/portalctl/internal/tui/prompt"
	"github.com/bobbytumur/portalctl/internal/tui/recentaccounts"
)

var (
	loginUsername      string
	loginPasswordStdin bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the portal",
	Long: `Sign in with a username and password. When the account has two-factor
authentication enabled you are asked for the code from your authenticator app.

Use --password-stdin for scripts:
  echo "$PASSWORD" | portalctl login --username alice --password-stdin`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		exitWith(func(ctx context.Context) int {
			return runLogin(ctx, os.Stdout, os.Stdin)
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify [code]",
	Short: "Complete two-factor verification",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitWith(func(ctx context.Context) int {
			code := ""
			if len(args) == 1 {
				code = args[0]
			}
			return runVerify(ctx, os.Stdout, os.Stdin, code)
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the session",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		exitWith(func(ctx context.Context) int {
			return runLogout(ctx, os.Stdout)
		})
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, verifyCmd, logoutCmd)
	loginCmd.Flags().StringVar(&loginUsername, "username", "", "Account username or email")
	loginCmd.Flags().BoolVar(&loginPasswordStdin, "password-stdin", false, "Read the password from stdin")
}

// isInteractive reports whether r is a terminal we can prompt on
func isInteractive(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && pending.IsTerminal(f)
}

// readPassword reads the first line of in
func readPassword(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password on stdin")
	}
	return password, nil
}

func validateCode(code string) error {
	if !session.ValidCode(session.NormalizeCode(code)) {
		return errors.New("enter the 6-digit code")
	}
	return nil
}

// runLogin signs in and returns the exit code
func runLogin(ctx context.Context, w io.Writer, in io.Reader) int {
	return withSession(w, func(rt *runtime) int {
		var recent *recentaccounts.RecentAccounts
		if rt.cfg.StateDir != "" {
			recent = recentaccounts.New(rt.cfg.StateDir, rt.cfg.BaseURL())
		}

		creds, code := gatherCredentials(w, in, recent)
		if code != exitOK {
			return code
		}

		var result session.LoginResult
		err := pending.Run(ctx, w, "Signing in...", func(ctx context.Context) error {
			var err error
			result, err = rt.mgr.Auth.Login(ctx, creds)
			return err
		})
		if err != nil {
			return reportError(w, err)
		}

		if recent != nil {
			if err := recent.Add(creds.Username); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not save recent account: %v\n", err)
			}
		}

		if result.Outcome == session.OutcomeStepUp {
			if !isInteractive(in) || loginPasswordStdin {
				fmt.Fprintln(w, "Two-factor verification required. Run \"portalctl verify <code>\".")
				return exitOK
			}
			if code := verifyInteractive(ctx, w, rt); code != exitOK {
				return code
			}
		}

		report := describeSession(rt.mgr)
		if IsJSONOutput() {
			fmt.Fprintln(w, formatJSON(struct {
				Outcome   string `json:"outcome"`
				TokenType string `json:"token_type,omitempty"`
				sessionReport
			}{result.Outcome, result.TokenType, report}))
			return exitOK
		}
		fmt.Fprintf(w, "%s Logged in as %s.\n", icons.Unlocked, creds.Username)
		return exitOK
	})
}

// gatherCredentials reads credentials from flags, stdin or a prompt
func gatherCredentials(w io.Writer, in io.Reader, recent *recentaccounts.RecentAccounts) (session.Credentials, int) {
	if loginPasswordStdin {
		if loginUsername == "" {
			fmt.Fprintln(w, "Error: --username is required with --password-stdin")
			return session.Credentials{}, exitUsage
		}
		password, err := readPassword(in)
		if err != nil {
			fmt.Fprintf(w, "Error: %v\n", err)
			return session.Credentials{}, exitUsage
		}
		return session.Credentials{Username: loginUsername, Password: password}, exitOK
	}

	if !isInteractive(in) {
		fmt.Fprintln(w, "Error: not a terminal; use --username with --password-stdin")
		return session.Credentials{}, exitUsage
	}

	username := loginUsername
	var suggestions []string
	if recent != nil {
		suggestions = recent.Load()
		if username == "" {
			username = recent.Last()
		}
	}

	entered, err := prompt.Login(username, suggestions)
	if err != nil {
		return session.Credentials{}, promptFailed(w, err)
	}
	return session.Credentials{Username: entered.Username, Password: entered.Password}, exitOK
}

// verifyInteractive asks for a code until one verifies or the user gives up
func verifyInteractive(ctx context.Context, w io.Writer, rt *runtime) int {
	for {
		code, err := prompt.Code("Two-factor code", validateCode)
		if err != nil {
			return promptFailed(w, err)
		}
		err = pending.Run(ctx, w, "Verifying...", func(ctx context.Context) error {
			return rt.mgr.Auth.VerifyStepUp(ctx, code)
		})
		if err == nil {
			return exitOK
		}

		var authErr *session.AuthError
		if !errors.As(err, &authErr) {
			return reportError(w, err)
		}
		fmt.Fprintf(w, "%s\n", authErr.Message)
	}
}

func promptFailed(w io.Writer, err error) int {
	if errors.Is(err, prompt.ErrAborted) || errors.Is(err, pending.ErrInterrupted) {
		fmt.Fprintln(w, "Aborted.")
		return exitUsage
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	return exitUsage
}

// runVerify completes a pending step-up and returns the exit code
func runVerify(ctx context.Context, w io.Writer, in io.Reader, code string) int {
	return withSession(w, func(rt *runtime) int {
		if rt.mgr.Gate.State() != session.StatePendingMFA {
			return reportError(w, session.ErrNoPendingStepUp)
		}

		if code == "" {
			if !isInteractive(in) {
				fmt.Fprintln(w, "Error: code argument is required when not running in a terminal")
				return exitUsage
			}
			if rc := verifyInteractive(ctx, w, rt); rc != exitOK {
				return rc
			}
		} else if err := rt.mgr.Auth.VerifyStepUp(ctx, code); err != nil {
			return reportError(w, err)
		}

		if IsJSONOutput() {
			fmt.Fprintln(w, formatJSON(describeSession(rt.mgr)))
			return exitOK
		}
		fmt.Fprintln(w, "Two-factor verification complete.")
		return exitOK
	})
}

// runLogout clears the session and returns the exit code
func runLogout(_ context.Context, w io.Writer) int {
	return withSession(w, func(rt *runtime) int {
		if err := rt.mgr.Auth.Logout(); err != nil {
			fmt.Fprintf(w, "Error: %v\n", err)
			return exitAPI
		}
		if IsJSONOutput() {
			fmt.Fprintln(w, formatJSON(describeSession(rt.mgr)))
			return exitOK
		}
		fmt.Fprintln(w, "Logged out.")
		return exitOK
	})
}
