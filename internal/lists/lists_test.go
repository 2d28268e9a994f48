package lists

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func writeList(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "list.txt")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileListSuffixMatch(t *testing.T) {
	allowPath := writeList(t, "# trusted domains\nexample.com\n\ndocs.google.com\n")
	files, err := Load(allowPath, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	cases := []struct {
		domain string
		want   bool
	}{
		{"example.com", true},
		{"cdn.example.com", true},
		{"a.b.example.com", true},
		{"EXAMPLE.COM", true},
		{"notexample.com", false},
		{"example.org", false},
		{"docs.google.com", true},
		{"google.com", false},
	}
	for _, tc := range cases {
		if got := files.AllowedDomain(tc.domain); got != tc.want {
			t.Errorf("AllowedDomain(%q) = %v, want %v", tc.domain, got, tc.want)
		}
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.txt"), ""); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadEmptyPaths(t *testing.T) {
	files, err := Load("", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if files.AllowedDomain("example.com") || files.DeniedDomain("example.com") {
		t.Fatal("empty lists should match nothing")
	}
}

type fakeStore struct {
	allow map[string]bool
	block map[string]bool
	err   error
}

func (s fakeStore) HasDomainAllow(_ context.Context, guildID, domain string) (bool, error) {
	return s.allow[guildID+":"+domain], s.err
}

func (s fakeStore) HasDomainBlock(_ context.Context, guildID, domain string) (bool, error) {
	return s.block[guildID+":"+domain], s.err
}

func TestCombinedLayersGuildLists(t *testing.T) {
	denyPath := writeList(t, "scam.test\n")
	files, err := Load("", denyPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	store := fakeStore{
		allow: map[string]bool{"g1:docs.test": true},
		block: map[string]bool{"g1:casino.test": true},
	}
	combined := NewCombined(files, store, zap.NewNop())
	ctx := context.Background()

	if !combined.Blocked(ctx, "g1", "scam.test") {
		t.Fatal("file deny entry should block in every guild")
	}
	if !combined.Blocked(ctx, "g2", "login.scam.test") {
		t.Fatal("file deny entry should block subdomains")
	}
	if !combined.Blocked(ctx, "g1", "casino.test") {
		t.Fatal("guild block entry should block")
	}
	if combined.Blocked(ctx, "g2", "casino.test") {
		t.Fatal("guild block entry should not leak to other guilds")
	}
	if !combined.Allowed(ctx, "g1", "docs.test") {
		t.Fatal("guild allow entry should allow")
	}
	if combined.Allowed(ctx, "g1", "other.test") {
		t.Fatal("unlisted domain should not be allowed")
	}
}

func TestCombinedStoreErrorFailsOpen(t *testing.T) {
	files, err := Load("", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	combined := NewCombined(files, fakeStore{err: errors.New("db closed")}, zap.NewNop())

	if combined.Blocked(context.Background(), "g1", "example.com") {
		t.Fatal("store errors should not block")
	}
	if combined.Allowed(context.Background(), "g1", "example.com") {
		t.Fatal("store errors should not allow")
	}
}
