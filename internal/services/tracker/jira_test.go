package tracker_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xmlangel/testcasecraft-sub009/internal/services/tracker"
	"github.com/xmlangel/testcasecraft-sub009/internal/services/tracker/trackertest"
	"github.com/xmlangel/testcasecraft-sub009/internal/syncerr"
)

func newClient(opts tracker.JiraOptions) *tracker.JiraClient {
	if opts.RetryInitialInterval == 0 {
		opts.RetryInitialInterval = time.Millisecond
	}
	return tracker.NewJiraClient(opts)
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "TEST-123", tracker.NormalizeKey("  test-123 "))
	assert.True(t, tracker.ValidKey("TEST-123"))
	assert.True(t, tracker.ValidKey("AB2_X-9"))
	assert.False(t, tracker.ValidKey("TEST"))
	assert.False(t, tracker.ValidKey("123-TEST"))
	assert.False(t, tracker.ValidKey("test-1"))
	assert.False(t, tracker.ValidKey(`A-1") OR key in ("B-2`))
}

func TestNormalizeServerURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"example.atlassian.net", "https://example.atlassian.net"},
		{"https://example.atlassian.net/", "https://example.atlassian.net"},
		{" http://jira.local:8080// ", "http://jira.local:8080"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tracker.NormalizeServerURL(tt.in), tt.in)
	}
}

func TestUniqueKeys(t *testing.T) {
	got := tracker.UniqueKeys([]string{"test-1", "TEST-1", "bad key", "TEST-2", " test-2 ", ""})
	assert.Equal(t, []string{"TEST-1", "TEST-2"}, got)
}

func TestGenerateIssueURL(t *testing.T) {
	c := newClient(tracker.JiraOptions{})
	conn := tracker.Connection{ServerURL: "jira.example.com/"}
	assert.Equal(t, "https://jira.example.com/browse/PROJ-7", c.GenerateIssueURL(conn, "proj-7"))
	assert.Equal(t, "", c.GenerateIssueURL(tracker.Connection{}, "PROJ-7"))
}

func TestBuildKeyJQL(t *testing.T) {
	assert.Equal(t, `key in ("A-1","B-2")`, tracker.BuildKeyJQL([]string{"A-1", "B-2"}))
}

func TestGetIssueInfo(t *testing.T) {
	srv := trackertest.NewServer()
	defer srv.Close()
	srv.AddIssue(tracker.IssueSnapshot{Key: "TEST-123", Summary: "Login fails", Status: "In Progress", IssueType: "Bug", Priority: "High"})

	c := newClient(tracker.JiraOptions{})
	snap, err := c.GetIssueInfo(context.Background(), srv.Connection(), "test-123")
	require.NoError(t, err)
	assert.Equal(t, tracker.IssueSnapshot{Key: "TEST-123", Summary: "Login fails", Status: "In Progress", IssueType: "Bug", Priority: "High"}, *snap)
}

func TestGetIssueInfo_ErrorKinds(t *testing.T) {
	srv := trackertest.NewServer()
	defer srv.Close()
	srv.AddIssue(tracker.IssueSnapshot{Key: "TEST-1", Summary: "x", Status: "Open"})
	srv.FailKey("TEST-5", http.StatusTooManyRequests)
	srv.FailKey("TEST-6", http.StatusBadGateway)

	c := newClient(tracker.JiraOptions{})
	ctx := context.Background()

	_, err := c.GetIssueInfo(ctx, srv.Connection(), "TEST-404")
	assert.Equal(t, syncerr.KindIssueNotFound, syncerr.KindOf(err))

	bad := srv.Connection()
	bad.Token = "wrong"
	_, err = c.GetIssueInfo(ctx, bad, "TEST-1")
	assert.Equal(t, syncerr.KindAuthFailure, syncerr.KindOf(err))

	_, err = c.GetIssueInfo(ctx, srv.Connection(), "TEST-5")
	assert.Equal(t, syncerr.KindRateLimited, syncerr.KindOf(err))

	_, err = c.GetIssueInfo(ctx, srv.Connection(), "TEST-6")
	assert.Equal(t, syncerr.KindTransientNetwork, syncerr.KindOf(err))

	_, err = c.GetIssueInfo(ctx, srv.Connection(), "not a key")
	assert.Equal(t, syncerr.KindInvalidIssueKey, syncerr.KindOf(err))
	assert.Equal(t, int64(3), srv.GetCalls.Load())
}

func TestGetIssueInfo_Unreachable(t *testing.T) {
	srv := trackertest.NewServer()
	conn := srv.Connection()
	srv.Close()

	c := newClient(tracker.JiraOptions{HTTPTimeout: time.Second})
	_, err := c.GetIssueInfo(context.Background(), conn, "TEST-1")
	assert.Equal(t, syncerr.KindTransientNetwork, syncerr.KindOf(err))
}

func TestGetIssueInfo_RetriesTransientFailures(t *testing.T) {
	srv := trackertest.NewServer()
	defer srv.Close()
	srv.AddIssue(tracker.IssueSnapshot{Key: "TEST-1", Summary: "x", Status: "Open"})
	srv.FailNext(http.StatusServiceUnavailable, http.StatusServiceUnavailable)

	c := newClient(tracker.JiraOptions{RetryMaxElapsed: 5 * time.Second})
	snap, err := c.GetIssueInfo(context.Background(), srv.Connection(), "TEST-1")
	require.NoError(t, err)
	assert.Equal(t, "Open", snap.Status)
	assert.Equal(t, int64(1), srv.GetCalls.Load(), "failed attempts are answered before reaching the handler")
}

func TestGetIssueInfo_DoesNotRetryNotFound(t *testing.T) {
	srv := trackertest.NewServer()
	defer srv.Close()

	c := newClient(tracker.JiraOptions{RetryMaxElapsed: 5 * time.Second})
	_, err := c.GetIssueInfo(context.Background(), srv.Connection(), "TEST-9")
	assert.Equal(t, syncerr.KindIssueNotFound, syncerr.KindOf(err))
	assert.Equal(t, int64(1), srv.GetCalls.Load())
}

func TestBatchSearch_DeduplicatesAndChunks(t *testing.T) {
	srv := trackertest.NewServer()
	defer srv.Close()
	srv.AddIssue(tracker.IssueSnapshot{Key: "TEST-123", Summary: "a", Status: "Open"})
	srv.AddIssue(tracker.IssueSnapshot{Key: "TEST-456", Summary: "b", Status: "Done"})

	c := newClient(tracker.JiraOptions{})
	keys := []string{"TEST-123", "test-123", "TEST-456", "TEST-123", "TEST-456", "TEST-999"}
	snaps, err := c.BatchSearch(context.Background(), srv.Connection(), keys, 50)
	require.NoError(t, err)

	assert.Len(t, snaps, 2)
	assert.Equal(t, int64(1), srv.SearchCalls.Load())
	assert.Equal(t, int64(0), srv.GetCalls.Load())
	assert.Equal(t, []string{`key in ("TEST-123","TEST-456","TEST-999")`}, srv.Searches())
}

func TestBatchSearch_ChunksByPageSize(t *testing.T) {
	srv := trackertest.NewServer()
	defer srv.Close()

	var keys []string
	for i := 1; i <= 7; i++ {
		key := fmt.Sprintf("TEST-%d", i)
		keys = append(keys, key)
		srv.AddIssue(tracker.IssueSnapshot{Key: key, Status: "Open"})
	}

	c := newClient(tracker.JiraOptions{PageSize: 5})
	snaps, err := c.BatchSearch(context.Background(), srv.Connection(), keys, 3)
	require.NoError(t, err)
	assert.Len(t, snaps, 7)
	assert.Equal(t, int64(3), srv.SearchCalls.Load())
}

func TestBatchSearch_IsolatesChunkFailures(t *testing.T) {
	srv := trackertest.NewServer()
	defer srv.Close()
	srv.AddIssue(tracker.IssueSnapshot{Key: "TEST-1", Status: "Open"})
	srv.AddIssue(tracker.IssueSnapshot{Key: "TEST-2", Status: "Open"})
	srv.FailKey("TEST-2", http.StatusInternalServerError)

	c := newClient(tracker.JiraOptions{})
	snaps, err := c.BatchSearch(context.Background(), srv.Connection(), []string{"TEST-1", "TEST-2"}, 1)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "TEST-1", snaps[0].Key)
}

func TestBatchSearch_AuthFailureAborts(t *testing.T) {
	srv := trackertest.NewServer()
	defer srv.Close()

	conn := srv.Connection()
	conn.Token = "nope"
	c := newClient(tracker.JiraOptions{})
	_, err := c.BatchSearch(context.Background(), conn, []string{"TEST-1", "TEST-2"}, 1)
	assert.Equal(t, syncerr.KindAuthFailure, syncerr.KindOf(err))
	assert.Equal(t, int64(0), srv.SearchCalls.Load())
}

func TestBatchSearch_NoValidKeys(t *testing.T) {
	c := newClient(tracker.JiraOptions{})
	snaps, err := c.BatchSearch(context.Background(), tracker.Connection{}, []string{"", "nope"}, 10)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestPostComment(t *testing.T) {
	srv := trackertest.NewServer()
	defer srv.Close()
	srv.AddIssue(tracker.IssueSnapshot{Key: "TEST-1", Status: "Open"})

	c := newClient(tracker.JiraOptions{RetryMaxElapsed: time.Second})
	id, err := c.PostComment(context.Background(), srv.Connection(), "TEST-1", "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	comments := srv.Comments()
	require.Len(t, comments, 1)
	assert.Equal(t, "hello", comments[0].Body)
	assert.Equal(t, id, comments[0].ID)
}

func TestPostComment_NotRetried(t *testing.T) {
	srv := trackertest.NewServer()
	defer srv.Close()
	srv.AddIssue(tracker.IssueSnapshot{Key: "TEST-1", Status: "Open"})
	srv.FailNext(http.StatusServiceUnavailable)

	c := newClient(tracker.JiraOptions{RetryMaxElapsed: 5 * time.Second})
	_, err := c.PostComment(context.Background(), srv.Connection(), "TEST-1", "hello")
	assert.Equal(t, syncerr.KindTransientNetwork, syncerr.KindOf(err))
	assert.True(t, syncerr.IsRetryable(err))
	assert.Empty(t, srv.Comments())
}

func TestRateLimiterHonoursContext(t *testing.T) {
	srv := trackertest.NewServer()
	defer srv.Close()
	srv.AddIssue(tracker.IssueSnapshot{Key: "TEST-1", Status: "Open"})

	c := newClient(tracker.JiraOptions{RateLimit: 0.001, Burst: 1})
	_, err := c.GetIssueInfo(context.Background(), srv.Connection(), "TEST-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.GetIssueInfo(ctx, srv.Connection(), "TEST-1")
	assert.Equal(t, syncerr.KindTransientNetwork, syncerr.KindOf(err))
	assert.Equal(t, int64(1), srv.GetCalls.Load())
}
