// ABOUTME: Account commands: whoami, me update, me password, totp and recover
// ABOUTME: Self-mutations invalidate the cached current user on success

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bobbytumur/portalctl/internal/client"
	"github.com/bobbytumur/portalctl/internal/session"
	"github.com/bobbytumur/portalctl/internal/tui/icons"
	"github.com/bobbytumur/portalctl/internal/tui/prompt"
)

var (
	meEmail    string
	meUsername string
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		exitWith(func(ctx context.Context) int {
			return runWhoami(ctx, os.Stdout)
		})
	},
}

var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Change your own account",
}

var meUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Change your email or username",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		exitWith(func(ctx context.Context) int {
			return runMeUpdate(ctx, os.Stdout, client.UserUpdateMe{Email: meEmail, Username: meUsername})
		})
	},
}

var mePasswordCmd = &cobra.Command{
	Use:   "password",
	Short: "Change your password",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		exitWith(func(ctx context.Context) int {
			if !isInteractive(os.Stdin) {
				fmt.Fprintln(os.Stdout, "Error: changing the password requires a terminal")
				return exitUsage
			}
			pc, err := prompt.ChangePassword()
			if err != nil {
				return promptFailed(os.Stdout, err)
			}
			return runMePassword(ctx, os.Stdout, client.UpdatePassword{
				CurrentPassword: pc.Current,
				NewPassword:     pc.New,
			})
		})
	},
}

var totpCmd = &cobra.Command{
	Use:   "totp",
	Short: "Manage two-factor authentication",
}

var totpEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Start two-factor enrollment and print the otpauth:// URI",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		exitWith(func(ctx context.Context) int {
			return runTOTPEnable(ctx, os.Stdout)
		})
	},
}

var totpVerifyCmd = &cobra.Command{
	Use:   "verify <code>",
	Short: "Confirm two-factor enrollment",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitWith(func(ctx context.Context) int {
			return runTOTPVerify(ctx, os.Stdout, args[0])
		})
	},
}

var totpDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Turn off two-factor authentication",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		exitWith(func(ctx context.Context) int {
			if isInteractive(os.Stdin) {
				ok, err := prompt.Confirm("Turn off two-factor authentication?")
				if err != nil {
					return promptFailed(os.Stdout, err)
				}
				if !ok {
					fmt.Fprintln(os.Stdout, "Cancelled.")
					return exitOK
				}
			}
			return runTOTPDisable(ctx, os.Stdout)
		})
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover <email>",
	Short: "Send a password recovery email",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitWith(func(ctx context.Context) int {
			return runRecover(ctx, os.Stdout, args[0])
		})
	},
}

func init() {
	meUpdateCmd.Flags().StringVar(&meEmail, "email", "", "New email address")
	meUpdateCmd.Flags().StringVar(&meUsername, "username", "", "New username")
	meCmd.AddCommand(meUpdateCmd, mePasswordCmd)
	totpCmd.AddCommand(totpEnableCmd, totpVerifyCmd, totpDisableCmd)
	rootCmd.AddCommand(whoamiCmd, meCmd, totpCmd, recoverCmd)
}

// withAuthorized runs fn only when the gate allows protected calls
func withAuthorized(w io.Writer, fn func(rt *runtime) int) int {
	return withSession(w, func(rt *runtime) int {
		if code := requireSession(w, rt); code != exitOK {
			return code
		}
		return fn(rt)
	})
}

// printMessage writes a backend message, or JSON when requested
func printMessage(w io.Writer, msg *client.Message) {
	if IsJSONOutput() {
		fmt.Fprintln(w, formatJSON(msg))
		return
	}
	fmt.Fprintln(w, msg.Message)
}

// runWhoami prints the cached current user
func runWhoami(ctx context.Context, w io.Writer) int {
	return withAuthorized(w, func(rt *runtime) int {
		user, err := rt.mgr.Users.Get(ctx)
		if err != nil {
			return reportError(w, err)
		}
		if IsJSONOutput() {
			fmt.Fprintln(w, formatJSON(user))
		} else {
			fmt.Fprintln(w, formatUserHuman(user))
		}
		return exitOK
	})
}

// runMeUpdate patches the signed-in user
func runMeUpdate(ctx context.Context, w io.Writer, update client.UserUpdateMe) int {
	update.Email = strings.TrimSpace(update.Email)
	update.Username = strings.TrimSpace(update.Username)
	if update.IsEmpty() {
		fmt.Fprintln(w, "Error: nothing to update; pass --email or --username")
		return exitUsage
	}

	return withAuthorized(w, func(rt *runtime) int {
		user, err := rt.mgr.API.UpdateUserMe(ctx, update)
		if err != nil {
			return reportError(w, err)
		}
		rt.mgr.Users.Invalidate()

		if IsJSONOutput() {
			fmt.Fprintln(w, formatJSON(user))
		} else {
			fmt.Fprintf(w, "Updated %s.\n", user.DisplayName())
		}
		return exitOK
	})
}

// runMePassword changes the signed-in user's password
func runMePassword(ctx context.Context, w io.Writer, update client.UpdatePassword) int {
	return withAuthorized(w, func(rt *runtime) int {
		msg, err := rt.mgr.API.UpdatePasswordMe(ctx, update)
		if err != nil {
			return reportError(w, err)
		}
		rt.mgr.Users.Invalidate()
		printMessage(w, msg)
		return exitOK
	})
}

// runTOTPEnable starts enrollment
func runTOTPEnable(ctx context.Context, w io.Writer) int {
	return withAuthorized(w, func(rt *runtime) int {
		qr, err := rt.mgr.API.EnableTOTP(ctx)
		if err != nil {
			return reportError(w, err)
		}
		rt.mgr.Users.Invalidate()

		if IsJSONOutput() {
			fmt.Fprintln(w, formatJSON(qr))
			return exitOK
		}
		fmt.Fprintf(w, "%s Add this URI to your authenticator app, then run \"portalctl totp verify <code>\":\n", icons.Key)
		fmt.Fprintln(w, qr.URI)
		return exitOK
	})
}

// runTOTPVerify confirms enrollment with a code from the app
func runTOTPVerify(ctx context.Context, w io.Writer, code string) int {
	code = session.NormalizeCode(code)
	if !session.ValidCode(code) {
		fmt.Fprintln(w, "Error: enter the 6-digit code from your authenticator app")
		return exitUsage
	}

	return withAuthorized(w, func(rt *runtime) int {
		msg, err := rt.mgr.API.VerifyTOTP(ctx, code)
		if err != nil {
			return reportError(w, err)
		}
		rt.mgr.Users.Invalidate()
		printMessage(w, msg)
		return exitOK
	})
}

// runTOTPDisable turns two-factor authentication off
func runTOTPDisable(ctx context.Context, w io.Writer) int {
	return withAuthorized(w, func(rt *runtime) int {
		msg, err := rt.mgr.API.DisableTOTP(ctx)
		if err != nil {
			return reportError(w, err)
		}
		rt.mgr.Users.Invalidate()
		printMessage(w, msg)
		return exitOK
	})
}

// runRecover asks the backend to send a recovery email
func runRecover(ctx context.Context, w io.Writer, email string) int {
	email = strings.TrimSpace(email)
	if email == "" {
		fmt.Fprintln(w, "Error: email is required")
		return exitUsage
	}

	return withSession(w, func(rt *runtime) int {
		msg, err := rt.mgr.Raw.RecoverPassword(ctx, email)
		if err != nil {
			return reportError(w, err)
		}
		printMessage(w, msg)
		return exitOK
	})
}
