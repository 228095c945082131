package services

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xmlangel/testcasecraft-sub009/internal/models"
	"github.com/xmlangel/testcasecraft-sub009/internal/services/tracker"
	"github.com/xmlangel/testcasecraft-sub009/internal/services/tracker/trackertest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testEncryptionKey = "unit-test-passphrase"

var dbSeq atomic.Int64

// newTestDB opens a private in-memory database. Sweep goroutines share its
// single connection.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:services_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.Migrate(db))
	return db
}

func newTestEncryptor(t *testing.T) *Encryptor {
	t.Helper()
	enc, err := NewEncryptor(testEncryptionKey)
	require.NoError(t, err)
	return enc
}

func newFakeTracker(t *testing.T) *trackertest.Server {
	t.Helper()
	srv := trackertest.NewServer()
	t.Cleanup(srv.Close)
	return srv
}

func newTestJiraClient() *tracker.JiraClient {
	return tracker.NewJiraClient(tracker.JiraOptions{
		HTTPTimeout:          5 * time.Second,
		RetryInitialInterval: time.Millisecond,
	})
}

type connectionSeed struct {
	UserID    uint
	ServerURL string
	Username  string
	Token     string
	Active    bool
	Shared    bool
}

func seedConnection(t *testing.T, db *gorm.DB, enc *Encryptor, s connectionSeed) *models.ConnectionConfig {
	t.Helper()
	token, err := enc.Encrypt(s.Token)
	require.NoError(t, err)
	cfg := &models.ConnectionConfig{
		UserID:         s.UserID,
		Name:           fmt.Sprintf("jira-%d", s.UserID),
		ServerURL:      s.ServerURL,
		Username:       s.Username,
		EncryptedToken: token,
		IsActive:       s.Active,
		IsShared:       s.Shared,
	}
	require.NoError(t, db.Create(cfg).Error)
	return cfg
}

// seedUserConnection stores an active config for userID that srv accepts.
func seedUserConnection(t *testing.T, db *gorm.DB, enc *Encryptor, srv *trackertest.Server, userID uint) *models.ConnectionConfig {
	t.Helper()
	return seedConnection(t, db, enc, connectionSeed{
		UserID:    userID,
		ServerURL: srv.URL,
		Username:  srv.Username,
		Token:     srv.Token,
		Active:    true,
	})
}

func seedExecution(t *testing.T, db *gorm.DB, projectID uint, name string) *models.TestExecution {
	t.Helper()
	exec := &models.TestExecution{ProjectID: projectID, Name: name}
	require.NoError(t, db.Create(exec).Error)
	return exec
}

type resultSeed struct {
	ExecutionID uint
	CaseID      string
	Result      string
	IssueKey    string
	ExecutedBy  uint
	Executor    string
	ExecutedAt  time.Time
	Status      string
	LastSyncAt  *time.Time
	SyncError   string
	Notes       string
}

func seedResult(t *testing.T, db *gorm.DB, s resultSeed) *models.TestResult {
	t.Helper()
	r := &models.TestResult{
		TestExecutionID: s.ExecutionID,
		TestCaseID:      s.CaseID,
		TestCaseName:    "Case " + s.CaseID,
		Result:          s.Result,
		Notes:           s.Notes,
		ExecutedAt:      s.ExecutedAt,
		ExecutedBy:      s.ExecutedBy,
		ExecutorName:    s.Executor,
		SyncStatus:      s.Status,
		LastSyncAt:      s.LastSyncAt,
		SyncError:       s.SyncError,
	}
	if r.SyncStatus == "" {
		r.SyncStatus = models.SyncStatusNotSynced
	}
	if r.ExecutedAt.IsZero() {
		r.ExecutedAt = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	}
	if s.IssueKey != "" {
		key := s.IssueKey
		r.IssueKey = &key
	}
	require.NoError(t, db.Create(r).Error)
	return r
}

func loadResult(t *testing.T, db *gorm.DB, id uint) models.TestResult {
	t.Helper()
	var r models.TestResult
	require.NoError(t, db.First(&r, id).Error)
	return r
}

func timePtr(t time.Time) *time.Time { return &t }
