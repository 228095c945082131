package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xmlangel/testcasecraft-sub009/internal/middleware"
	"github.com/xmlangel/testcasecraft-sub009/internal/services"
	"github.com/xmlangel/testcasecraft-sub009/pkg/response"
)

type IssueSyncHandler struct {
	orchestrator *services.SyncOrchestrator
	queue        services.TaskQueue
}

func NewIssueSyncHandler(orchestrator *services.SyncOrchestrator, queue services.TaskQueue) *IssueSyncHandler {
	return &IssueSyncHandler{orchestrator: orchestrator, queue: queue}
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid id")
		return 0, false
	}
	return uint(id), true
}

// Retry queues a manual sync attempt for one result.
func (h *IssueSyncHandler) Retry(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	task := services.NewSyncRecordTask(id, middleware.GetUserID(c))
	if err := h.queue.Enqueue(task); err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Accepted(c, gin.H{"task_id": task.TaskID, "result_id": id, "async": h.queue.IsAsync()})
}

type linkIssueRequest struct {
	IssueKey string `json:"issue_key" binding:"required"`
}

func (h *IssueSyncHandler) Link(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req linkIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	result, err := h.orchestrator.LinkIssue(c.Request.Context(), id, req.IssueKey)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, result)
}

func (h *IssueSyncHandler) Resync(c *gin.Context) {
	var req services.ResyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if len(req.ResultIDs) == 0 && req.ExecutionID == 0 {
		response.BadRequest(c, "result_ids or execution_id is required")
		return
	}
	n, err := h.orchestrator.RequestResync(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"reset": n})
}

type executionSummaryRequest struct {
	IssueKey string `json:"issue_key" binding:"required"`
}

// PostExecutionSummary posts an execution's outcome distribution to an issue.
func (h *IssueSyncHandler) PostExecutionSummary(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req executionSummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	commentID, err := h.orchestrator.PostExecutionSummary(c.Request.Context(), middleware.GetUserID(c), id, req.IssueKey)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, gin.H{"comment_id": commentID})
}

func (h *IssueSyncHandler) Stats(c *gin.Context) {
	stats, err := h.orchestrator.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, stats)
}

// RunSweep queues a sweep by kind: pending, retry or timeout.
func (h *IssueSyncHandler) RunSweep(c *gin.Context) {
	kind := c.Param("kind")
	switch kind {
	case services.SweepPending, services.SweepRetry, services.SweepTimeout:
	default:
		response.BadRequest(c, "unknown sweep kind: "+kind)
		return
	}
	task := services.NewSweepTask(kind, middleware.GetUserID(c))
	if err := h.queue.Enqueue(task); err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Accepted(c, gin.H{"task_id": task.TaskID, "kind": kind, "async": h.queue.IsAsync()})
}
