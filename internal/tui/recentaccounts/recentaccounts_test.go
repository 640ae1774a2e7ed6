// ABOUTME: Tests for recent account management
// ABOUTME: Validates per-backend storage, max limit, and deduplication

package recentaccounts

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmpty(t *testing.T) {
	ra := New(t.TempDir(), "http://localhost:8000/api/v1")

	if names := ra.Load(); len(names) != 0 {
		t.Errorf("expected empty list, got %v", names)
	}
	if ra.Last() != "" {
		t.Errorf("expected no last account, got %q", ra.Last())
	}
}

func TestAddMoveToFront(t *testing.T) {
	dir := t.TempDir()
	ra := New(dir, "http://localhost:8000/api/v1")

	ra.Add("alice")
	ra.Add("bob")

	names := New(dir, "http://localhost:8000/api/v1").Load()
	if len(names) != 2 || names[0] != "bob" {
		t.Fatalf("expected [bob alice], got %v", names)
	}

	ra.Add("alice")
	names = ra.Load()
	if len(names) != 2 || names[0] != "alice" {
		t.Errorf("expected alice first after re-add, got %v", names)
	}
}

func TestMaxLimit(t *testing.T) {
	ra := New(t.TempDir(), "http://portal")

	for i := 1; i <= 7; i++ {
		ra.Add("user" + string(rune('0'+i)))
	}

	names := ra.Load()
	if len(names) != MaxRecentAccounts {
		t.Errorf("expected %d names, got %d", MaxRecentAccounts, len(names))
	}
	if names[0] != "user7" {
		t.Errorf("expected user7 first, got %s", names[0])
	}
}

func TestSeparatePerBackend(t *testing.T) {
	dir := t.TempDir()
	New(dir, "http://a.example.com").Add("alice")
	New(dir, "http://b.example.com/").Add("bob")

	if got := New(dir, "http://a.example.com/").Last(); got != "alice" {
		t.Errorf("expected alice for backend a, got %q", got)
	}
	if got := New(dir, "http://b.example.com").Last(); got != "bob" {
		t.Errorf("expected bob for backend b, got %q", got)
	}
}

func TestInvalidFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "recent-accounts.json"), []byte("{bad"), 0600); err != nil {
		t.Fatal(err)
	}

	ra := New(dir, "http://portal")
	if names := ra.Load(); len(names) != 0 {
		t.Errorf("expected empty list, got %v", names)
	}
	if err := ra.Add("alice"); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
}

func TestCreatesConfigDir(t *testing.T) {
	configDir := filepath.Join(t.TempDir(), "portalctl")
	ra := New(configDir, "http://portal")

	if err := ra.Add("alice"); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		t.Error("config dir should have been created")
	}
}

func TestBlankUsernameIgnored(t *testing.T) {
	ra := New(t.TempDir(), "http://portal")
	ra.Add("   ")
	if names := ra.Load(); len(names) != 0 {
		t.Errorf("expected blank username to be ignored, got %v", names)
	}
}
