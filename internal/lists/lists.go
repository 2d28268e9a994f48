package lists

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/dghubble/trie"
	"go.uber.org/zap"
)

// FileLists holds the static allow and deny lists shipped with the bot.
// Domains are stored as reversed label paths ("com/example") so a lookup for
// any subdomain walks down from the registrable suffix.
type FileLists struct {
	allow *trie.PathTrie
	deny  *trie.PathTrie
}

// Load reads the allow and deny files. Either path may be empty, producing
// an empty list. Lines are one domain each; blank lines and '#' comments are
// skipped.
func Load(allowPath, denyPath string) (*FileLists, error) {
	allow, err := loadFile(allowPath)
	if err != nil {
		return nil, err
	}
	deny, err := loadFile(denyPath)
	if err != nil {
		return nil, err
	}
	return &FileLists{allow: allow, deny: deny}, nil
}

func loadFile(path string) (*trie.PathTrie, error) {
	t := trie.NewPathTrie()
	if path == "" {
		return t, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t.Put(reverseLabels(strings.ToLower(line)), struct{}{})
	}
	return t, scanner.Err()
}

func (f *FileLists) AllowedDomain(domain string) bool {
	return matchSuffix(f.allow, domain)
}

func (f *FileLists) DeniedDomain(domain string) bool {
	return matchSuffix(f.deny, domain)
}

// matchSuffix reports whether the domain or any parent of it is listed.
func matchSuffix(t *trie.PathTrie, domain string) bool {
	labels := strings.Split(strings.ToLower(domain), ".")
	path := ""
	for i := len(labels) - 1; i >= 0; i-- {
		if path == "" {
			path = labels[i]
		} else {
			path = path + "/" + labels[i]
		}
		if t.Get(path) != nil {
			return true
		}
	}
	return false
}

func reverseLabels(domain string) string {
	labels := strings.Split(domain, ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return strings.Join(labels, "/")
}

// Store is the per-guild list surface backed by the database.
type Store interface {
	HasDomainAllow(ctx context.Context, guildID, domain string) (bool, error)
	HasDomainBlock(ctx context.Context, guildID, domain string) (bool, error)
}

// Combined layers per-guild database lists over the static file lists. File
// entries match by suffix; guild entries match the exact domain.
type Combined struct {
	files  *FileLists
	store  Store
	logger *zap.Logger
}

func NewCombined(files *FileLists, store Store, logger *zap.Logger) *Combined {
	return &Combined{files: files, store: store, logger: logger}
}

func (c *Combined) Allowed(ctx context.Context, guildID, domain string) bool {
	if c.files.AllowedDomain(domain) {
		return true
	}
	return c.guildListed(ctx, guildID, domain, c.store.HasDomainAllow)
}

func (c *Combined) Blocked(ctx context.Context, guildID, domain string) bool {
	if c.files.DeniedDomain(domain) {
		return true
	}
	return c.guildListed(ctx, guildID, domain, c.store.HasDomainBlock)
}

func (c *Combined) guildListed(ctx context.Context, guildID, domain string, lookup func(context.Context, string, string) (bool, error)) bool {
	if c.store == nil || guildID == "" {
		return false
	}
	listed, err := lookup(ctx, guildID, domain)
	if err != nil {
		c.logger.Warn("guild domain list lookup failed",
			zap.String("guild_id", guildID),
			zap.String("domain", domain),
			zap.Error(err))
		return false
	}
	return listed
}
