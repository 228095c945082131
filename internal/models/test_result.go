package models

import (
	"time"

	"gorm.io/gorm"
)

// Sync status values for TestResult.SyncStatus
const (
	SyncStatusNotSynced  = "NOT_SYNCED"
	SyncStatusInProgress = "IN_PROGRESS"
	SyncStatusSynced     = "SYNCED"
	SyncStatusFailed     = "FAILED"
)

// AllSyncStatuses lists every sync status in display order.
var AllSyncStatuses = []string{
	SyncStatusNotSynced,
	SyncStatusInProgress,
	SyncStatusSynced,
	SyncStatusFailed,
}

// Result values recorded by testers
const (
	ResultPass    = "PASS"
	ResultFail    = "FAIL"
	ResultBlocked = "BLOCKED"
	ResultNotRun  = "NOT_RUN"
)

// TestExecution is one run of a set of test cases within a project.
type TestExecution struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	ProjectID   uint           `gorm:"index;not null" json:"project_id"`
	Name        string         `gorm:"size:200;not null" json:"name"`
	Status      string         `gorm:"size:50;default:INPROGRESS" json:"status"` // NOTSTARTED, INPROGRESS, COMPLETED
	StartedAt   *time.Time     `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at"`
	CreatedBy   uint           `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (TestExecution) TableName() string { return "test_executions" }

// TestResult is a single test case outcome. The sync columns track whether the
// linked tracker issue has received the latest outcome.
type TestResult struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	TestExecutionID uint           `gorm:"index;not null" json:"test_execution_id"`
	TestExecution   *TestExecution `gorm:"foreignKey:TestExecutionID" json:"test_execution,omitempty"`
	TestCaseID      string         `gorm:"size:64;index;not null" json:"test_case_id"`
	TestCaseName    string         `gorm:"size:500" json:"test_case_name"`
	Result          string         `gorm:"size:20;not null" json:"result"` // PASS, FAIL, BLOCKED, NOT_RUN
	Notes           string         `gorm:"type:text" json:"notes"`
	ExecutedAt      time.Time      `gorm:"index" json:"executed_at"`
	ExecutedBy      uint           `json:"executed_by"`
	ExecutorName    string         `gorm:"size:100" json:"executor_name"`

	IssueKey        *string    `gorm:"size:50;index" json:"issue_key"`
	SyncStatus      string     `gorm:"size:20;index;default:NOT_SYNCED" json:"sync_status"`
	LastSyncAt      *time.Time `gorm:"index" json:"last_sync_at"`
	SyncError       string     `gorm:"type:text" json:"sync_error"`
	RemoteCommentID string     `gorm:"size:100" json:"remote_comment_id"`
	// SyncClaim identifies the attempt that owns an IN_PROGRESS record.
	SyncClaim string `gorm:"size:36" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (TestResult) TableName() string { return "test_results" }

// Key returns the linked issue key or "".
func (r *TestResult) Key() string {
	if r.IssueKey == nil {
		return ""
	}
	return *r.IssueKey
}
