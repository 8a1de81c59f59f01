package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (h *Handler) refreshItem(c *gin.Context) {
	itemID, ok := pathID(c)
	if !ok {
		return
	}

	outcome, err := h.comps.RefreshItem(c.Request.Context(), itemID)
	if err != nil {
		writeError(c, "Failed to refresh comps", err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

func (h *Handler) compHistory(c *gin.Context) {
	itemID, ok := pathID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	history, err := h.comps.History(c.Request.Context(), itemID, limit)
	if err != nil {
		writeError(c, "Failed to load comp history", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"item_id": itemID,
		"history": history,
	})
}

type bulkRefreshRequest struct {
	ItemIDs []int64 `json:"item_ids" binding:"required,min=1,max=500"`
}

// bulkRefresh queues the batch for the background worker
func (h *Handler) bulkRefresh(c *gin.Context) {
	var req bulkRefreshRequest
	if !bind(c, &req) {
		return
	}

	requestID, err := h.comps.RequestBulkRefresh(c.Request.Context(), req.ItemIDs)
	if err != nil {
		writeError(c, "Failed to queue comp refresh", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"request_id": requestID,
		"items":      len(req.ItemIDs),
	})
}
