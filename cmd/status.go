// ABOUTME: Status command for portalctl
// ABOUTME: Shows session state, token expiry and the next scheduled refresh

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bobbytumur/portalctl/internal/session"
)

var statusCheck bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session",
	Long: `Display the session state, when the access token expires and when it
will next be refreshed. With --check the token is also validated by the backend.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		exitWith(func(ctx context.Context) int {
			return runStatus(ctx, os.Stdout)
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusCheck, "check", false, "Validate the token with the backend")
}

// runStatus prints the session summary and returns exit code
func runStatus(ctx context.Context, w io.Writer) int {
	return withSession(w, func(rt *runtime) int {
		report := describeSession(rt.mgr)
		code := exitOK

		if statusCheck {
			valid := false
			if rt.mgr.Gate.IsAuthorized() {
				user, err := rt.mgr.API.TestToken(ctx)
				valid = err == nil
				if valid {
					report.User = user
				} else {
					code = reportError(io.Discard, err)
				}
			} else {
				code = exitUnauthorized
			}
			report.TokenValid = &valid
			// the interceptor may have refreshed or ended the session
			refreshed := describeSession(rt.mgr)
			refreshed.User, refreshed.TokenValid = report.User, report.TokenValid
			report = refreshed
		}

		if IsJSONOutput() {
			fmt.Fprintln(w, formatJSON(report))
		} else {
			fmt.Fprintln(w, formatSessionHuman(report, time.Now()))
			if report.State == string(session.StateAnonymous) {
				fmt.Fprintln(w, "\nRun \"portalctl login\" to sign in.")
			}
		}
		return code
	})
}
