// Package tracker talks to the external issue tracker. Client is the capability
// the sync and aggregation services depend on; JiraClient is the Jira backend.
package tracker

import (
	"context"
	"regexp"
	"strings"
)

// Connection is a resolved, decrypted credential bundle.
type Connection struct {
	ConfigID  uint
	ServerURL string
	Username  string
	Token     string
}

// IssueSnapshot is the live state of one issue at call time. Never persisted.
type IssueSnapshot struct {
	Key       string `json:"key"`
	Summary   string `json:"summary"`
	Status    string `json:"status"`
	IssueType string `json:"issue_type"`
	Priority  string `json:"priority"`
}

// Client is implemented by each tracker backend.
type Client interface {
	GetIssueInfo(ctx context.Context, conn Connection, key string) (*IssueSnapshot, error)
	// BatchSearch looks up many keys with one query per chunk of at most
	// maxResults keys. Keys that do not resolve are absent from the result.
	BatchSearch(ctx context.Context, conn Connection, keys []string, maxResults int) ([]IssueSnapshot, error)
	PostComment(ctx context.Context, conn Connection, key, body string) (string, error)
	GenerateIssueURL(conn Connection, key string) string
}

var issueKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*-\d+$`)

// NormalizeKey trims and upper-cases an issue key.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// ValidKey reports whether key is a well formed issue key such as PROJ-123.
// The key must already be normalized.
func ValidKey(key string) bool {
	return issueKeyPattern.MatchString(key)
}

// NormalizeServerURL defaults the scheme to https and drops trailing slashes.
func NormalizeServerURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}
	return strings.TrimRight(u, "/")
}

// UniqueKeys normalizes keys, drops invalid ones and removes duplicates,
// keeping first-seen order.
func UniqueKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = NormalizeKey(k)
		if !ValidKey(k) {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
