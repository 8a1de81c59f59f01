package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"showledger/internal/reconcile"
	"showledger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const maxUploadBytes = 10 << 20

// startReview accepts the platform export either as a multipart "file" field or as the raw
// request body. Options come from query or form values.
func (h *Handler) startReview(c *gin.Context) {
	sessionID, ok := pathID(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	csvText, err := readUpload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid upload",
			"details": err.Error(),
		})
		return
	}

	opts, err := startOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid options",
			"details": err.Error(),
		})
		return
	}

	view, err := h.reconciler.StartReview(c.Request.Context(), sessionID, csvText, opts)
	if err != nil {
		writeError(c, "Failed to start reconciliation", err)
		return
	}

	c.JSON(http.StatusCreated, view)
}

func readUpload(c *gin.Context) (string, error) {
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return "", err
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		return string(data), err
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return "", fmt.Errorf("empty upload")
	}
	return string(data), nil
}

func startOptions(c *gin.Context) (service.StartOptions, error) {
	value := func(key string) string {
		if v := c.Query(key); v != "" {
			return v
		}
		return c.PostForm(key)
	}

	opts := service.StartOptions{
		Mode:    value("mode"),
		Include: reconcile.SplitKeywords(value("include")),
		Exclude: reconcile.SplitKeywords(value("exclude")),
	}

	if v := value("start_slot"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, fmt.Errorf("start_slot must be a positive integer")
		}
		opts.StartSlot = n
	}
	for key, dst := range map[string]**decimal.Decimal{"fee_rate": &opts.FeeRate, "tax_rate": &opts.TaxRate} {
		v := value(key)
		if v == "" {
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil || d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
			return opts, fmt.Errorf("%s must be a decimal between 0 and 1", key)
		}
		*dst = &d
	}
	return opts, nil
}

// getReview returns the working review
func (h *Handler) getReview(c *gin.Context) {
	sessionID, ok := pathID(c)
	if !ok {
		return
	}

	view, err := h.reconciler.GetReview(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, "Reconciliation not found", err)
		return
	}

	c.JSON(http.StatusOK, view)
}

type shiftRequest struct {
	Direction string `json:"direction" binding:"required,oneof=up down"`
	Confirm   bool   `json:"confirm"`
}

func (h *Handler) shift(c *gin.Context) {
	sessionID, ok := pathID(c)
	if !ok {
		return
	}

	var req shiftRequest
	if !bind(c, &req) {
		return
	}

	view, err := h.reconciler.Shift(c.Request.Context(), sessionID, reconcile.Direction(req.Direction), req.Confirm)
	respond(c, "Failed to shift mapping", view, err)
}

type assignRequest struct {
	SlotNumber   int `json:"slot_number" binding:"required,min=1"`
	CSVRowNumber int `json:"csv_row_number" binding:"required,min=1"`
}

func (h *Handler) assign(c *gin.Context) {
	sessionID, ok := pathID(c)
	if !ok {
		return
	}

	var req assignRequest
	if !bind(c, &req) {
		return
	}

	view, err := h.reconciler.Assign(c.Request.Context(), sessionID, req.SlotNumber, req.CSVRowNumber)
	respond(c, "Failed to assign row", view, err)
}

type slotRequest struct {
	SlotNumber int `json:"slot_number" binding:"required,min=1"`
}

func (h *Handler) clear(c *gin.Context) {
	sessionID, ok := pathID(c)
	if !ok {
		return
	}

	var req slotRequest
	if !bind(c, &req) {
		return
	}

	view, err := h.reconciler.Clear(c.Request.Context(), sessionID, req.SlotNumber)
	respond(c, "Failed to clear assignment", view, err)
}

func (h *Handler) markUnsold(c *gin.Context) {
	sessionID, ok := pathID(c)
	if !ok {
		return
	}

	var req slotRequest
	if !bind(c, &req) {
		return
	}

	view, err := h.reconciler.MarkUnsold(c.Request.Context(), sessionID, req.SlotNumber)
	respond(c, "Failed to mark slot unsold", view, err)
}

type modeRequest struct {
	Mode    string `json:"mode" binding:"required"`
	Confirm bool   `json:"confirm"`
}

func (h *Handler) switchMode(c *gin.Context) {
	sessionID, ok := pathID(c)
	if !ok {
		return
	}

	var req modeRequest
	if !bind(c, &req) {
		return
	}

	view, err := h.reconciler.SwitchMode(c.Request.Context(), sessionID, req.Mode, req.Confirm)
	respond(c, "Failed to switch mode", view, err)
}

// commit writes sales. A result with failures is still 200; the operator fixes and re-runs.
func (h *Handler) commit(c *gin.Context) {
	sessionID, ok := pathID(c)
	if !ok {
		return
	}

	result, err := h.reconciler.Commit(c.Request.Context(), sessionID, c.GetHeader("Idempotency-Key"))
	if err != nil {
		writeError(c, "Failed to commit reconciliation", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) export(c *gin.Context) {
	sessionID, ok := pathID(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := h.reconciler.Export(c.Request.Context(), sessionID, &buf); err != nil {
		writeError(c, "Failed to export reconciliation", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="session-%d-reconciliation.csv"`, sessionID))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

func respond(c *gin.Context, msg string, view *service.ReviewView, err error) {
	if err != nil {
		if errors.Is(err, reconcile.ErrUnsavedManualEdits) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   msg,
				"details": err.Error(),
				"warning": "This discards manual corrections. Resend with confirm=true to proceed.",
			})
			return
		}
		writeError(c, msg, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
