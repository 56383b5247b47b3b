package handlers

import (
	"net/http"
	"strconv"

	"catalogsync/internal/logger"
	"catalogsync/internal/store"

	"github.com/gin-gonic/gin"
)

type IssueHandler struct {
	store  *store.Store
	logger *logger.Logger
}

func NewIssueHandler(st *store.Store, logger *logger.Logger) *IssueHandler {
	return &IssueHandler{
		store:  st,
		logger: logger,
	}
}

func (h *IssueHandler) List(c *gin.Context) {
	f := store.IssueFilter{
		SKU:   c.Query("sku"),
		RunID: c.Query("run_id"),
		Limit: queryInt(c, "limit", 50),
	}
	if resolved, err := strconv.ParseBool(c.Query("resolved")); err == nil {
		f.Resolved = &resolved
	}

	issues, err := h.store.ListIssues(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("Failed to list issues: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch issues"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": issues})
}

func (h *IssueHandler) Resolve(c *gin.Context) {
	issue, err := h.store.ResolveIssue(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": issue})
}
