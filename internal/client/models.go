// ABOUTME: Request and response models for the portal REST API
// ABOUTME: Mirrors the backend's token, user and TOTP payloads

package client

import (
	"net/url"
	"strings"
)

// Token types returned by /login/access-token and /login/validate-totp
const (
	TokenTypeBearer = "bearer"
	TokenTypeTOTP   = "totp"
)

// Token represents an issued access token
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
}

// LoginForm is the OAuth2 password form posted to /login/access-token.
// Extra carries the optional grant_type, scope, client_id and client_secret fields.
type LoginForm struct {
	Username string
	Password string
	Extra    url.Values
}

// Encode returns the form as application/x-www-form-urlencoded
func (f LoginForm) Encode() string {
	data := url.Values{}
	for key, values := range f.Extra {
		for _, v := range values {
			data.Add(key, v)
		}
	}
	data.Set("username", f.Username)
	data.Set("password", f.Password)
	return data.Encode()
}

// ServiceID references a monitored service the user has access to
type ServiceID struct {
	ID string `json:"id"`
}

// User is the public profile returned by /users/me
type User struct {
	ID            int         `json:"id"`
	Username      string      `json:"username"`
	Email         string      `json:"email"`
	IsSuperuser   bool        `json:"is_superuser"`
	CanEdit       bool        `json:"can_edit"`
	IsActive      bool        `json:"is_active"`
	IsTOTPEnabled bool        `json:"is_totp_enabled"`
	Services      []ServiceID `json:"services"`
}

// DisplayName returns the name shown in menus
func (u *User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}

// Roles summarizes the user's role flags
func (u *User) Roles() []string {
	var roles []string
	if u.IsSuperuser {
		roles = append(roles, "admin")
	}
	if u.CanEdit {
		roles = append(roles, "editor")
	}
	if u.IsTOTPEnabled {
		roles = append(roles, "totp")
	}
	if !u.IsActive {
		roles = append(roles, "inactive")
	}
	return roles
}

// UserUpdateMe is the body for PATCH /users/me. Empty fields are omitted.
type UserUpdateMe struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// IsEmpty reports whether the update would change nothing
func (u UserUpdateMe) IsEmpty() bool {
	return strings.TrimSpace(u.Username) == "" && strings.TrimSpace(u.Email) == ""
}

// UpdatePassword is the body for PATCH /users/me/password
type UpdatePassword struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// TOTPCode carries a one-time code
type TOTPCode struct {
	Token string `json:"token"`
}

// QRURI is the otpauth:// provisioning URI returned by /totp/enable
type QRURI struct {
	URI string `json:"uri"`
}

// Message is the generic backend acknowledgement
type Message struct {
	Message string `json:"message"`
}
