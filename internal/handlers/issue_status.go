package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xmlangel/testcasecraft-sub009/internal/middleware"
	"github.com/xmlangel/testcasecraft-sub009/internal/services"
	"github.com/xmlangel/testcasecraft-sub009/pkg/response"
)

type IssueStatusHandler struct {
	aggregator *services.StatusAggregator
}

func NewIssueStatusHandler(aggregator *services.StatusAggregator) *IssueStatusHandler {
	return &IssueStatusHandler{aggregator: aggregator}
}

func (h *IssueStatusHandler) ProjectSummary(c *gin.Context) {
	projectID, err := strconv.ParseUint(c.Param("project_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}
	summaries, err := h.aggregator.GetProjectSummary(c.Request.Context(), middleware.GetUserID(c), uint(projectID))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"items": summaries, "total": len(summaries)})
}

func (h *IssueStatusHandler) RefreshProjectSummary(c *gin.Context) {
	projectID, err := strconv.ParseUint(c.Param("project_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}
	summaries, err := h.aggregator.RefreshProjectSummary(c.Request.Context(), middleware.GetUserID(c), uint(projectID))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"items": summaries, "total": len(summaries)})
}

func (h *IssueStatusHandler) IssueDetail(c *gin.Context) {
	summary, err := h.aggregator.GetIssueDetail(c.Request.Context(), middleware.GetUserID(c), c.Param("key"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, summary)
}

type batchSummaryRequest struct {
	IssueKeys []string `json:"issue_keys" binding:"required,min=1,max=200"`
}

func (h *IssueStatusHandler) BatchSummary(c *gin.Context) {
	var req batchSummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	summaries, err := h.aggregator.GetBatchSummary(c.Request.Context(), middleware.GetUserID(c), req.IssueKeys)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"items": summaries, "total": len(summaries)})
}
