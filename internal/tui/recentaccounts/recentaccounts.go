// ABOUTME: Remembers usernames that recently signed in, per backend URL
// ABOUTME: Feeds the login prompt's default and suggestions from the state directory

package recentaccounts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// MaxRecentAccounts is the number of usernames kept per backend
const MaxRecentAccounts = 5

// RecentAccounts manages the recent-username list for one backend
type RecentAccounts struct {
	configDir string
	apiURL    string
	names     []string
}

type recentData struct {
	Accounts map[string][]string `json:"accounts"`
}

// New creates a manager storing under configDir, keyed by apiURL
func New(configDir, apiURL string) *RecentAccounts {
	return &RecentAccounts{
		configDir: configDir,
		apiURL:    strings.TrimRight(apiURL, "/"),
	}
}

func (ra *RecentAccounts) configFile() string {
	return filepath.Join(ra.configDir, "recent-accounts.json")
}

func (ra *RecentAccounts) read() recentData {
	data := recentData{Accounts: map[string][]string{}}
	raw, err := os.ReadFile(ra.configFile())
	if err != nil {
		return data
	}
	if err := json.Unmarshal(raw, &data); err != nil || data.Accounts == nil {
		// Invalid JSON, start fresh
		return recentData{Accounts: map[string][]string{}}
	}
	return data
}

// Load reads the list for this backend, most recent first
func (ra *RecentAccounts) Load() []string {
	names := ra.read().Accounts[ra.apiURL]
	ra.names = make([]string, 0, len(names))
	for _, n := range names {
		if strings.TrimSpace(n) != "" {
			ra.names = append(ra.names, n)
		}
	}
	return ra.names
}

// Add moves username to the front of the list and saves it
func (ra *RecentAccounts) Add(username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil
	}

	data := ra.read()
	names := make([]string, 0, MaxRecentAccounts)
	names = append(names, username)
	for _, n := range data.Accounts[ra.apiURL] {
		if n != username && len(names) < MaxRecentAccounts {
			names = append(names, n)
		}
	}
	data.Accounts[ra.apiURL] = names
	ra.names = names

	if err := os.MkdirAll(ra.configDir, 0700); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(ra.configFile(), raw, 0600)
}

// Last returns the most recent username, or ""
func (ra *RecentAccounts) Last() string {
	if ra.names == nil {
		ra.Load()
	}
	if len(ra.names) == 0 {
		return ""
	}
	return ra.names[0]
}
