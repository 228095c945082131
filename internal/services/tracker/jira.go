package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jira "github.com/andygrunwald/go-jira"
	"github.com/cenkalti/backoff/v4"
	"github.com/xmlangel/testcasecraft-sub009/internal/syncerr"
	"github.com/xmlangel/testcasecraft-sub009/pkg/logger"
	"golang.org/x/time/rate"
)

const (
	DefaultPageSize    = 50
	DefaultHTTPTimeout = 15 * time.Second
)

var searchFields = []string{"summary", "status", "issuetype", "priority"}

// JiraOptions tunes a JiraClient. Zero values pick defaults.
type JiraOptions struct {
	HTTPTimeout time.Duration
	PageSize    int
	// RateLimit is requests per second across every call made by the client.
	// Zero means unlimited.
	RateLimit float64
	Burst     int
	// RetryMaxElapsed bounds retries of reads on transient failures.
	// Zero disables retries.
	RetryMaxElapsed      time.Duration
	RetryInitialInterval time.Duration
	Transport            http.RoundTripper
}

// JiraClient implements Client against the Jira REST API v2.
type JiraClient struct {
	opts    JiraOptions
	limiter *rate.Limiter
}

func NewJiraClient(opts JiraOptions) *JiraClient {
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = DefaultHTTPTimeout
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = 200 * time.Millisecond
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &JiraClient{opts: opts, limiter: limiter}
}

func (c *JiraClient) newClient(conn Connection) (*jira.Client, error) {
	base := NormalizeServerURL(conn.ServerURL)
	if base == "" {
		return nil, syncerr.New(syncerr.KindConfigMissing, "tracker.newClient", "server url is empty")
	}
	tp := jira.BasicAuthTransport{
		Username:  conn.Username,
		Password:  conn.Token,
		Transport: c.opts.Transport,
	}
	httpClient := &http.Client{Transport: &tp, Timeout: c.opts.HTTPTimeout}
	client, err := jira.NewClient(httpClient, base+"/")
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindConfigMissing, "tracker.newClient", err)
	}
	return client, nil
}

func (c *JiraClient) GetIssueInfo(ctx context.Context, conn Connection, key string) (*IssueSnapshot, error) {
	const op = "tracker.GetIssueInfo"
	key = NormalizeKey(key)
	if !ValidKey(key) {
		return nil, syncerr.Newf(syncerr.KindInvalidIssueKey, op, "invalid issue key %q", key)
	}

	client, err := c.newClient(conn)
	if err != nil {
		return nil, err
	}

	var snap *IssueSnapshot
	err = c.retryRead(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return syncerr.Wrap(syncerr.KindTransientNetwork, op, err)
		}
		issue, resp, err := client.Issue.GetWithContext(ctx, key, nil)
		if err != nil {
			return classify(op, resp, err)
		}
		if issue == nil || issue.Fields == nil {
			return syncerr.Newf(syncerr.KindMalformedResponse, op, "issue %s has no fields", key)
		}
		snap = toSnapshot(issue)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (c *JiraClient) BatchSearch(ctx context.Context, conn Connection, keys []string, maxResults int) ([]IssueSnapshot, error) {
	const op = "tracker.BatchSearch"
	unique := UniqueKeys(keys)
	if len(unique) == 0 {
		return nil, nil
	}

	chunkSize := c.opts.PageSize
	if maxResults > 0 && maxResults < chunkSize {
		chunkSize = maxResults
	}

	client, err := c.newClient(conn)
	if err != nil {
		return nil, err
	}

	snapshots := make([]IssueSnapshot, 0, len(unique))
	for start := 0; start < len(unique); start += chunkSize {
		end := start + chunkSize
		if end > len(unique) {
			end = len(unique)
		}
		chunk := unique[start:end]

		issues, err := c.searchChunk(ctx, client, chunk)
		if err != nil {
			if ctx.Err() != nil || syncerr.KindOf(err) == syncerr.KindAuthFailure {
				return nil, err
			}
			logger.Warn().Err(err).Int("chunk_size", len(chunk)).Msg("[Tracker] Batch search chunk failed, skipping")
			continue
		}
		for i := range issues {
			if issues[i].Fields == nil {
				continue
			}
			snapshots = append(snapshots, *toSnapshot(&issues[i]))
		}
	}

	logger.Debug().Int("keys", len(unique)).Int("found", len(snapshots)).Msg("[Tracker] Batch search completed")
	return snapshots, nil
}

func (c *JiraClient) searchChunk(ctx context.Context, client *jira.Client, keys []string) ([]jira.Issue, error) {
	const op = "tracker.BatchSearch"
	jql := BuildKeyJQL(keys)
	opts := &jira.SearchOptions{
		MaxResults:    len(keys),
		Fields:        searchFields,
		ValidateQuery: "warn",
	}

	var issues []jira.Issue
	err := c.retryRead(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return syncerr.Wrap(syncerr.KindTransientNetwork, op, err)
		}
		found, resp, err := client.Issue.SearchWithContext(ctx, jql, opts)
		if err != nil {
			return classify(op, resp, err)
		}
		issues = found
		return nil
	})
	return issues, err
}

// PostComment is not retried: a timeout after the server accepted the comment
// would otherwise post it twice.
func (c *JiraClient) PostComment(ctx context.Context, conn Connection, key, body string) (string, error) {
	const op = "tracker.PostComment"
	key = NormalizeKey(key)
	if !ValidKey(key) {
		return "", syncerr.Newf(syncerr.KindInvalidIssueKey, op, "invalid issue key %q", key)
	}

	client, err := c.newClient(conn)
	if err != nil {
		return "", err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", syncerr.Wrap(syncerr.KindTransientNetwork, op, err)
	}

	comment, resp, err := client.Issue.AddCommentWithContext(ctx, key, &jira.Comment{Body: body})
	if err != nil {
		return "", classify(op, resp, err)
	}
	if comment == nil || comment.ID == "" {
		return "", syncerr.Newf(syncerr.KindMalformedResponse, op, "no comment id returned for %s", key)
	}
	return comment.ID, nil
}

func (c *JiraClient) GenerateIssueURL(conn Connection, key string) string {
	base := NormalizeServerURL(conn.ServerURL)
	if base == "" {
		return ""
	}
	return base + "/browse/" + NormalizeKey(key)
}

func (c *JiraClient) retryRead(ctx context.Context, op func() error) error {
	if c.opts.RetryMaxElapsed <= 0 {
		return op()
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.RetryInitialInterval
	bo.MaxElapsedTime = c.opts.RetryMaxElapsed
	return backoff.Retry(func() error {
		err := op()
		if err != nil && syncerr.IsRetryable(err) && ctx.Err() == nil {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

// BuildKeyJQL renders a disjunctive key match: key in ("A-1","B-2").
func BuildKeyJQL(keys []string) string {
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = `"` + k + `"`
	}
	return "key in (" + strings.Join(quoted, ",") + ")"
}

func toSnapshot(issue *jira.Issue) *IssueSnapshot {
	s := &IssueSnapshot{Key: issue.Key}
	f := issue.Fields
	s.Summary = f.Summary
	if f.Status != nil {
		s.Status = f.Status.Name
	}
	s.IssueType = f.Type.Name
	if f.Priority != nil {
		s.Priority = f.Priority.Name
	}
	return s
}

// classify maps a go-jira failure onto an error kind.
func classify(op string, resp *jira.Response, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return syncerr.Wrap(syncerr.KindTransientNetwork, op, err)
	}
	if resp == nil || resp.Response == nil {
		return syncerr.Wrap(syncerr.KindTransientNetwork, op, err)
	}

	status := resp.StatusCode
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &syncerr.Error{Kind: syncerr.KindAuthFailure, Op: op, Message: fmt.Sprintf("tracker rejected credentials (HTTP %d)", status), Err: err}
	case status == http.StatusNotFound:
		return &syncerr.Error{Kind: syncerr.KindIssueNotFound, Op: op, Message: "issue not found", Err: err}
	case status == http.StatusTooManyRequests:
		return &syncerr.Error{Kind: syncerr.KindRateLimited, Op: op, Message: "tracker rate limit exceeded", Err: err}
	case status >= 500:
		return &syncerr.Error{Kind: syncerr.KindTransientNetwork, Op: op, Message: fmt.Sprintf("tracker returned HTTP %d", status), Err: err}
	case status >= 200 && status < 300:
		return &syncerr.Error{Kind: syncerr.KindMalformedResponse, Op: op, Message: "could not decode tracker response", Err: err}
	default:
		return &syncerr.Error{Kind: syncerr.KindMalformedResponse, Op: op, Message: fmt.Sprintf("unexpected HTTP %d", status), Err: err}
	}
}
