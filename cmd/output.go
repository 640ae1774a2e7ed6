// ABOUTME: Shared output helpers for human and JSON rendering
// ABOUTME: Describes the current session for login, verify and status

package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bobbytumur/portalctl/internal/client"
	"github.com/bobbytumur/portalctl/internal/session"
	"github.com/bobbytumur/portalctl/internal/tui/styles"
	"github.com/bobbytumur/portalctl/internal/tui/widgets"
)

// sessionReport summarizes the held session. Token values are never included.
type sessionReport struct {
	State         string       `json:"state"`
	IssuedAt      *time.Time   `json:"issued_at,omitempty"`
	ExpiresAt     *time.Time   `json:"expires_at,omitempty"`
	NextRefreshAt *time.Time   `json:"next_refresh_at,omitempty"`
	TokenValid    *bool        `json:"token_valid,omitempty"`
	User          *client.User `json:"user,omitempty"`
}

// describeSession reads the session state and token timing without network I/O
func describeSession(mgr *session.Manager) sessionReport {
	report := sessionReport{State: string(mgr.Gate.State())}

	tok, ok := mgr.Store.Get()
	if !ok || tok.Class != session.Full {
		return report
	}
	if iat, exp, ok := session.Lifetime(tok.Value); ok {
		report.IssuedAt = &iat
		report.ExpiresAt = &exp
	} else if exp, ok := session.ExpiresAt(tok.Value); ok {
		report.ExpiresAt = &exp
	}
	if at, ok := mgr.Refresher.NextRefreshAt(); ok {
		report.NextRefreshAt = &at
	}
	return report
}

// remainingPercent is the share of the token lifetime left at now
func remainingPercent(issued, exp, now time.Time) float64 {
	total := exp.Sub(issued)
	if total <= 0 {
		return 0
	}
	left := exp.Sub(now)
	if left <= 0 {
		return 0
	}
	if left >= total {
		return 100
	}
	return float64(left) / float64(total) * 100
}

// formatSessionHuman renders a report as aligned key/value lines
func formatSessionHuman(r sessionReport, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Session:       %s\n", widgets.StateBadge(r.State))
	if r.User != nil {
		fmt.Fprintf(&b, "User:          %s\n", r.User.DisplayName())
	}
	if r.ExpiresAt != nil {
		left := r.ExpiresAt.Sub(now).Truncate(time.Second)
		if left > 0 {
			fmt.Fprintf(&b, "Expires:       %s (in %s)\n", r.ExpiresAt.Local().Format(time.RFC3339), left)
		} else {
			fmt.Fprintf(&b, "Expires:       %s (%s)\n", r.ExpiresAt.Local().Format(time.RFC3339), styles.StatusWarning.Render("expired"))
		}
		if r.IssuedAt != nil {
			pct := remainingPercent(*r.IssuedAt, *r.ExpiresAt, now)
			fmt.Fprintf(&b, "Lifetime:      %s %.0f%%\n", styles.LifetimeBar(pct, 20), pct)
		}
	}
	if r.NextRefreshAt != nil {
		if r.NextRefreshAt.After(now) {
			fmt.Fprintf(&b, "Next refresh:  %s\n", r.NextRefreshAt.Local().Format(time.RFC3339))
		} else {
			fmt.Fprintln(&b, "Next refresh:  due now")
		}
	}
	if r.TokenValid != nil {
		if *r.TokenValid {
			fmt.Fprintf(&b, "Token check:   %s\n", widgets.StatusText("valid", widgets.StatusOK))
		} else {
			fmt.Fprintf(&b, "Token check:   %s\n", widgets.StatusText("rejected", widgets.StatusCritical))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatJSON renders v as indented JSON
func formatJSON(v interface{}) string {
	data, _ := json.MarshalIndent(v, "", "  ")
	return string(data)
}

// formatUserHuman renders the current user
func formatUserHuman(u *client.User) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Username:      %s\n", u.Username)
	fmt.Fprintf(&b, "Email:         %s\n", u.Email)
	fmt.Fprintf(&b, "ID:            %d\n", u.ID)
	roles := u.Roles()
	if len(roles) == 0 {
		roles = []string{"user"}
	}
	fmt.Fprintf(&b, "Roles:         %s\n", strings.Join(roles, ", "))
	fmt.Fprintf(&b, "Active:        %t\n", u.IsActive)
	fmt.Fprintf(&b, "Two-factor:    %s\n", enabledText(u.IsTOTPEnabled))
	fmt.Fprintf(&b, "Services:      %d", len(u.Services))
	return b.String()
}

func enabledText(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
