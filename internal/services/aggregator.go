package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xmlangel/testcasecraft-sub009/internal/models"
	"github.com/xmlangel/testcasecraft-sub009/internal/services/tracker"
	"github.com/xmlangel/testcasecraft-sub009/internal/syncerr"
	"github.com/xmlangel/testcasecraft-sub009/pkg/logger"
	"gorm.io/gorm"
)

const (
	snapshotCacheSize = 1024
	unknownValue      = "Unknown"
	noSummaryValue    = "No Summary"
)

var closedStatuses = []string{"closed", "done", "resolved"}

// IssueStatusSummary aggregates every result linked to one issue.
type IssueStatusSummary struct {
	IssueKey           string         `json:"issue_key"`
	IssueURL           string         `json:"issue_url"`
	Summary            string         `json:"summary"`
	CurrentStatus      string         `json:"current_status"`
	IssueType          string         `json:"issue_type"`
	Priority           string         `json:"priority"`
	ProjectID          uint           `json:"project_id"`
	LinkedTestCount    int            `json:"linked_test_count"`
	ResultDistribution map[string]int `json:"result_distribution"`
	LatestResult       string         `json:"latest_result"`
	LatestExecutedAt   *time.Time     `json:"latest_executed_at"`
	LatestExecutor     string         `json:"latest_executor"`
	SyncStatus         string         `json:"sync_status"`
	LastSyncAt         *time.Time     `json:"last_sync_at"`
	SyncError          string         `json:"sync_error,omitempty"`
	NeedsSync          bool           `json:"needs_sync"`
	IsActiveIssue      bool           `json:"is_active_issue"`
	SuccessRate        float64        `json:"success_rate"`
	// IssueError is set when the live issue lookup failed; the group is still reported.
	IssueError string `json:"issue_error,omitempty"`
}

// StatusAggregator builds issue status summaries from stored results and live
// tracker state.
type StatusAggregator struct {
	db        *gorm.DB
	creds     *CredentialResolver
	client    tracker.Client
	pageSize  int
	snapshots *expirable.LRU[string, tracker.IssueSnapshot] // nil when disabled
}

// NewStatusAggregator builds an aggregator. A snapshotTTL of zero disables the
// snapshot cache so every read goes to the tracker.
func NewStatusAggregator(db *gorm.DB, creds *CredentialResolver, client tracker.Client, pageSize int, snapshotTTL time.Duration) *StatusAggregator {
	a := &StatusAggregator{db: db, creds: creds, client: client, pageSize: pageSize}
	if snapshotTTL > 0 {
		a.snapshots = expirable.NewLRU[string, tracker.IssueSnapshot](snapshotCacheSize, nil, snapshotTTL)
	}
	return a
}

func (a *StatusAggregator) GetProjectSummary(ctx context.Context, userID, projectID uint) ([]IssueStatusSummary, error) {
	return a.projectSummary(ctx, userID, projectID, false)
}

// RefreshProjectSummary re-queries the tracker for every key, replacing any
// cached snapshots.
func (a *StatusAggregator) RefreshProjectSummary(ctx context.Context, userID, projectID uint) ([]IssueStatusSummary, error) {
	logger.Info().Uint("project_id", projectID).Uint("user_id", userID).Msg("[Aggregator] Manual refresh requested")
	return a.projectSummary(ctx, userID, projectID, true)
}

func (a *StatusAggregator) projectSummary(ctx context.Context, userID, projectID uint, bypassCache bool) ([]IssueStatusSummary, error) {
	conn, err := a.creds.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	executions := a.db.Model(&models.TestExecution{}).Select("id").Where("project_id = ?", projectID)
	var results []models.TestResult
	err = a.db.WithContext(ctx).
		Preload("TestExecution").
		Scopes(linked).
		Where("test_execution_id IN (?)", executions).
		Find(&results).Error
	if err != nil {
		return nil, fmt.Errorf("load project results: %w", err)
	}

	return a.summarize(ctx, conn, results, bypassCache), nil
}

// GetIssueDetail summarizes the results linked to a single issue.
func (a *StatusAggregator) GetIssueDetail(ctx context.Context, userID uint, key string) (*IssueStatusSummary, error) {
	const op = "aggregator.GetIssueDetail"
	key = tracker.NormalizeKey(key)
	if !tracker.ValidKey(key) {
		return nil, syncerr.Newf(syncerr.KindInvalidIssueKey, op, "invalid issue key %q", key)
	}

	conn, err := a.creds.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	var results []models.TestResult
	if err := a.db.WithContext(ctx).
		Preload("TestExecution").
		Where("UPPER(issue_key) = ?", key).
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("load issue results: %w", err)
	}
	if len(results) == 0 {
		return nil, syncerr.Newf(syncerr.KindRecordNotFound, op, "no test results reference %s", key)
	}

	summaries := a.summarize(ctx, conn, results, false)
	return &summaries[0], nil
}

// GetBatchSummary summarizes an explicit list of keys, in the order the caller
// gave them. Keys that no result references are left out.
func (a *StatusAggregator) GetBatchSummary(ctx context.Context, userID uint, keys []string) ([]IssueStatusSummary, error) {
	unique := tracker.UniqueKeys(keys)
	if len(unique) == 0 {
		return []IssueStatusSummary{}, nil
	}

	conn, err := a.creds.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	var results []models.TestResult
	if err := a.db.WithContext(ctx).
		Preload("TestExecution").
		Where("UPPER(issue_key) IN ?", unique).
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("load batch results: %w", err)
	}

	byKey := make(map[string]IssueStatusSummary)
	for _, s := range a.summarize(ctx, conn, results, false) {
		byKey[s.IssueKey] = s
	}
	out := make([]IssueStatusSummary, 0, len(byKey))
	for _, k := range unique {
		if s, ok := byKey[k]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (a *StatusAggregator) summarize(ctx context.Context, conn tracker.Connection, results []models.TestResult, bypassCache bool) []IssueStatusSummary {
	groups := make(map[string][]models.TestResult)
	var keys []string
	for _, r := range results {
		key := tracker.NormalizeKey(r.Key())
		if key == "" {
			continue
		}
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], r)
	}
	if len(keys) == 0 {
		return []IssueStatusSummary{}
	}

	snapshots, lookupErrs := a.lookup(ctx, conn, keys, bypassCache)

	summaries := make([]IssueStatusSummary, 0, len(keys))
	for _, key := range keys {
		snap, found := snapshots[key]
		s := buildSummary(key, groups[key], snapPtr(snap, found))
		s.IssueURL = a.client.GenerateIssueURL(conn, key)
		if !found {
			if err := lookupErrs[key]; err != nil {
				s.IssueError = syncerr.Summary(err)
			} else {
				s.IssueError = syncerr.Summary(syncerr.Newf(syncerr.KindIssueNotFound, "", "%s was not returned by the tracker", key))
			}
		}
		summaries = append(summaries, s)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		ti, tj := summaries[i].LatestExecutedAt, summaries[j].LatestExecutedAt
		if !ti.Equal(*tj) {
			return ti.After(*tj)
		}
		return summaries[i].IssueKey < summaries[j].IssueKey
	})
	return summaries
}

// lookup fetches snapshots for keys: one GetIssueInfo for a single key,
// otherwise one BatchSearch over every key the cache cannot answer.
func (a *StatusAggregator) lookup(ctx context.Context, conn tracker.Connection, keys []string, bypassCache bool) (map[string]tracker.IssueSnapshot, map[string]error) {
	found := make(map[string]tracker.IssueSnapshot, len(keys))
	errs := make(map[string]error)

	var misses []string
	for _, key := range keys {
		if !tracker.ValidKey(key) {
			errs[key] = syncerr.Newf(syncerr.KindInvalidIssueKey, "", "invalid issue key %q", key)
			continue
		}
		cacheKey := snapshotCacheKey(conn, key)
		if a.snapshots != nil {
			if bypassCache {
				a.snapshots.Remove(cacheKey)
			} else if snap, ok := a.snapshots.Get(cacheKey); ok {
				found[key] = snap
				TrackerLookupsCount.WithLabelValues("cache").Inc()
				continue
			}
		}
		misses = append(misses, key)
	}

	switch len(misses) {
	case 0:
	case 1:
		snap, err := a.client.GetIssueInfo(ctx, conn, misses[0])
		if err != nil {
			logger.Warn().Err(err).Str("issue_key", misses[0]).Msg("[Aggregator] Issue lookup failed")
			errs[misses[0]] = err
			break
		}
		a.remember(conn, *snap)
		found[misses[0]] = *snap
	default:
		snaps, err := a.client.BatchSearch(ctx, conn, misses, a.pageSize)
		if err != nil {
			logger.Warn().Err(err).Int("keys", len(misses)).Msg("[Aggregator] Batch issue lookup failed")
			for _, key := range misses {
				errs[key] = err
			}
			break
		}
		for _, snap := range snaps {
			key := tracker.NormalizeKey(snap.Key)
			snap.Key = key
			a.remember(conn, snap)
			found[key] = snap
		}
	}

	for _, key := range misses {
		if _, ok := found[key]; ok {
			TrackerLookupsCount.WithLabelValues("remote").Inc()
		} else {
			TrackerLookupsCount.WithLabelValues("missing").Inc()
		}
	}
	return found, errs
}

func (a *StatusAggregator) remember(conn tracker.Connection, snap tracker.IssueSnapshot) {
	if a.snapshots != nil {
		a.snapshots.Add(snapshotCacheKey(conn, snap.Key), snap)
	}
}

func snapshotCacheKey(conn tracker.Connection, key string) string {
	return fmt.Sprintf("%d|%s|%s", conn.ConfigID, conn.ServerURL, key)
}

func snapPtr(s tracker.IssueSnapshot, ok bool) *tracker.IssueSnapshot {
	if !ok {
		return nil
	}
	return &s
}

// buildSummary computes the statistics for one group. snap may be nil.
func buildSummary(key string, group []models.TestResult, snap *tracker.IssueSnapshot) IssueStatusSummary {
	sorted := append([]models.TestResult(nil), group...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].ExecutedAt.Equal(sorted[j].ExecutedAt) {
			return sorted[i].ExecutedAt.After(sorted[j].ExecutedAt)
		}
		return sorted[i].ID > sorted[j].ID
	})
	latest := sorted[0]
	dist := Distribution(sorted)

	s := IssueStatusSummary{
		IssueKey:           key,
		Summary:            noSummaryValue,
		CurrentStatus:      unknownValue,
		IssueType:          unknownValue,
		Priority:           unknownValue,
		LinkedTestCount:    len(sorted),
		ResultDistribution: dist,
		LatestResult:       latest.Result,
		LatestExecutor:     latest.ExecutorName,
		SuccessRate:        SuccessRate(dist[models.ResultPass], len(sorted)),
	}
	executedAt := latest.ExecutedAt
	s.LatestExecutedAt = &executedAt
	if latest.TestExecution != nil {
		s.ProjectID = latest.TestExecution.ProjectID
	}

	if snap != nil {
		s.Summary = valueOr(snap.Summary, noSummaryValue)
		s.CurrentStatus = valueOr(snap.Status, unknownValue)
		s.IssueType = valueOr(snap.IssueType, unknownValue)
		s.Priority = valueOr(snap.Priority, unknownValue)
	}
	s.IsActiveIssue = IsActiveIssue(s.CurrentStatus)

	s.SyncStatus = GroupSyncStatus(sorted)
	s.NeedsSync = NeedsSync(s.SyncStatus)

	var lastFailedAt time.Time
	for i := range sorted {
		r := &sorted[i]
		if r.LastSyncAt != nil && (s.LastSyncAt == nil || r.LastSyncAt.After(*s.LastSyncAt)) {
			t := *r.LastSyncAt
			s.LastSyncAt = &t
		}
		if r.SyncStatus == models.SyncStatusFailed && r.SyncError != "" {
			var at time.Time
			if r.LastSyncAt != nil {
				at = *r.LastSyncAt
			}
			if s.SyncError == "" || at.After(lastFailedAt) {
				s.SyncError = r.SyncError
				lastFailedAt = at
			}
		}
	}
	return s
}

// GroupSyncStatus derives one status for results sharing an issue: any
// IN_PROGRESS wins, then all SYNCED, then any FAILED, else NOT_SYNCED.
func GroupSyncStatus(group []models.TestResult) string {
	if len(group) == 0 {
		return models.SyncStatusNotSynced
	}
	allSynced, anyFailed := true, false
	for _, r := range group {
		switch r.SyncStatus {
		case models.SyncStatusInProgress:
			return models.SyncStatusInProgress
		case models.SyncStatusFailed:
			anyFailed = true
		}
		if r.SyncStatus != models.SyncStatusSynced {
			allSynced = false
		}
	}
	switch {
	case allSynced:
		return models.SyncStatusSynced
	case anyFailed:
		return models.SyncStatusFailed
	}
	return models.SyncStatusNotSynced
}

// NeedsSync reports whether a group status calls for another sync attempt.
func NeedsSync(status string) bool {
	return status == "" || status == models.SyncStatusFailed || status == models.SyncStatusNotSynced
}

// IsActiveIssue is false for Closed, Done and Resolved, in any case.
func IsActiveIssue(status string) bool {
	s := strings.TrimSpace(status)
	for _, closed := range closedStatuses {
		if strings.EqualFold(s, closed) {
			return false
		}
	}
	return true
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
