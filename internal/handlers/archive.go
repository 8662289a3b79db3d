package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"transfer_cavity_lock/internal/service"
)

const maxArchiveLimit = 1000

// ArchiveRequest selects the batch number of a new bundle.
type ArchiveRequest struct {
	Batch int `json:"batch" example:"1"`
}

// @Summary      Archive the current traces
// @Description  Stores the parameter dictionary, trace CSV and plot as one zip bundle
// @Tags         archive
// @Accept       json
// @Produce      json
// @Param        body  body   ArchiveRequest  false  "Batch"
// @Success      200   {object}  models.ArchiveEntry
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/archive [post]
// @Security     BearerAuth
func (h *Handler) storeArchive(c *gin.Context) {
	var req ArchiveRequest
	if c.Request.ContentLength != 0 && !h.bindOrBadRequest(c, &req) {
		return
	}
	entry, err := h.services.Archive.Store(c.Request.Context(), req.Batch)
	if err != nil {
		h.lockError(c, "archive_store_failed", err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// @Summary      List archived bundles
// @Tags         archive
// @Produce      json
// @Param        limit  query   int  false  "Maximum number of entries"  example(50)
// @Success      200    {object}  map[string]interface{}  "count, entries"
// @Failure      400    {object}  map[string]string
// @Failure      401    {object}  map[string]string
// @Failure      500    {object}  map[string]string
// @Router       /api/v1/archive [get]
// @Security     BearerAuth
func (h *Handler) listArchive(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 || v > maxArchiveLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer in [0, 1000]"})
			return
		}
		limit = v
	}
	entries, err := h.services.Archive.List(c.Request.Context(), limit)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to list archive", "archive_list_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(entries),
		"entries": entries,
	})
}

// @Summary      Read back an archived bundle
// @Tags         archive
// @Produce      json
// @Param        id   path      string  true  "Archive id"  example(tcl05Mar2601_000)
// @Success      200  {object}  models.ArchiveDetail
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/archive/{id} [get]
// @Security     BearerAuth
func (h *Handler) getArchive(c *gin.Context) {
	detail, err := h.services.Archive.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, service.ErrArchiveNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "archive not found"})
		return
	}
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to read archive", "archive_read_failed", err)
		return
	}
	c.JSON(http.StatusOK, detail)
}
