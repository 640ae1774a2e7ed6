// ABOUTME: Interactive huh forms for credentials, one-time codes and confirmations
// ABOUTME: Validation helpers are exported separately so they can be tested without a terminal

package prompt

import (
	"errors"
	"strings"

	"github.com/charmbracelet/huh"
)

// ErrAborted is returned when the user cancels a form
var ErrAborted = huh.ErrUserAborted

// Credentials entered on the login form
type Credentials struct {
	Username string
	Password string
}

// Login asks for a username and password. username pre-fills the first
// field; suggestions are offered for completion.
func Login(username string, suggestions []string) (Credentials, error) {
	creds := Credentials{Username: username}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Username").
				Suggestions(suggestions).
				Validate(Required("username")).
				Value(&creds.Username),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Validate(Required("password")).
				Value(&creds.Password),
		),
	).WithTheme(huh.ThemeBase())

	if err := form.Run(); err != nil {
		return Credentials{}, err
	}
	creds.Username = strings.TrimSpace(creds.Username)
	return creds, nil
}

// Code asks for a one-time code, checked with validate before submission
func Code(title string, validate func(string) error) (string, error) {
	var code string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(title).
				Placeholder("123456").
				CharLimit(7).
				Validate(validate).
				Value(&code),
		),
	).WithTheme(huh.ThemeBase())

	if err := form.Run(); err != nil {
		return "", err
	}
	return code, nil
}

// PasswordChange holds the fields of the change-password form
type PasswordChange struct {
	Current string
	New     string
	Confirm string
}

// ChangePassword asks for the current password and a new one twice
func ChangePassword() (PasswordChange, error) {
	var pc PasswordChange

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Current password").
				EchoMode(huh.EchoModePassword).
				Validate(Required("current password")).
				Value(&pc.Current),
			huh.NewInput().
				Title("New password").
				EchoMode(huh.EchoModePassword).
				Validate(MinLength("new password", 8)).
				Value(&pc.New),
			huh.NewInput().
				Title("Confirm new password").
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					return MatchPasswords(pc.New, s)
				}).
				Value(&pc.Confirm),
		),
	).WithTheme(huh.ThemeBase())

	if err := form.Run(); err != nil {
		return PasswordChange{}, err
	}
	return pc, nil
}

// Confirm asks a yes/no question
func Confirm(title string) (bool, error) {
	var ok bool

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		),
	).WithTheme(huh.ThemeBase())

	if err := form.Run(); err != nil {
		return false, err
	}
	return ok, nil
}

// Required returns a validator rejecting blank input
func Required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New(field + " is required")
		}
		return nil
	}
}

// MinLength returns a validator rejecting input shorter than n
func MinLength(field string, n int) func(string) error {
	return func(s string) error {
		if len(s) < n {
			return errors.New(field + " is too short")
		}
		return nil
	}
}

// MatchPasswords checks the confirmation field
func MatchPasswords(password, confirm string) error {
	if password != confirm {
		return errors.New("passwords do not match")
	}
	return nil
}
