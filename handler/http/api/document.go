package api

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"docpilot/src/storage/minioctrl"
	"docpilot/src/storage/postgres/documentctrl"
)

// UploadDocument godoc
// @Summary Upload a document for ingestion
// @Tags documents
// @Accept multipart/form-data
// @Param file formData file true "Document file"
// @Produce json
// @Success 202 {object} documentctrl.Document
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /documents [post]
func (h *Handler) UploadDocument(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		sendError(c, http.StatusBadRequest, fmt.Errorf("file upload required: %w", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		sendError(c, http.StatusInternalServerError, fmt.Errorf("failed to read file: %w", err))
		return
	}
	if len(data) == 0 {
		sendError(c, http.StatusBadRequest, fmt.Errorf("uploaded file is empty"))
		return
	}

	objectKey := path.Join(uuid.New().String(), header.Filename)
	ctx := c.Request.Context()

	if err := h.objects.PutObject(ctx, minioctrl.DocumentsBucket, objectKey, data); err != nil {
		sendError(c, http.StatusInternalServerError, fmt.Errorf("failed to store file: %w", err))
		return
	}

	doc, err := h.documents.Create(ctx, header.Filename, objectKey, h.chunkSize, h.chunkOverlap)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	if _, err := h.jobs.EnqueueIngestion(ctx, doc.ID); err != nil {
		sendError(c, http.StatusInternalServerError, fmt.Errorf("failed to enqueue ingestion: %w", err))
		return
	}

	sendJSON(c, http.StatusAccepted, doc)
}

// ListDocuments godoc
// @Summary List documents
// @Tags documents
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Produce json
// @Success 200 {array} documentctrl.Document
// @Failure 500 {object} ErrorResponse
// @Router /documents [get]
func (h *Handler) ListDocuments(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	docs, err := h.documents.List(c.Request.Context(), limit, offset)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	sendJSON(c, http.StatusOK, docs)
}

// GetDocument godoc
// @Summary Get one document with its ingestion status
// @Tags documents
// @Param id path int true "Document ID"
// @Produce json
// @Success 200 {object} documentctrl.Document
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /documents/{id} [get]
func (h *Handler) GetDocument(c *gin.Context) {
	doc, ok := h.loadDocument(c)
	if !ok {
		return
	}
	sendJSON(c, http.StatusOK, doc)
}

// DeleteDocument godoc
// @Summary Delete a document and everything derived from it
// @Tags documents
// @Param id path int true "Document ID"
// @Success 204 "No Content"
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /documents/{id} [delete]
func (h *Handler) DeleteDocument(c *gin.Context) {
	doc, ok := h.loadDocument(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.chunks.DeleteDocument(ctx, doc.ID); err != nil {
		sendError(c, http.StatusInternalServerError, fmt.Errorf("failed to delete chunks: %w", err))
		return
	}
	if err := h.objects.DeleteObject(ctx, minioctrl.DocumentsBucket, doc.ObjectKey); err != nil {
		sendError(c, http.StatusInternalServerError, fmt.Errorf("failed to delete file: %w", err))
		return
	}
	if err := h.documents.Delete(ctx, doc.ID); err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ReingestDocument godoc
// @Summary Re-run ingestion for a document
// @Tags documents
// @Param id path int true "Document ID"
// @Produce json
// @Success 202 {object} documentctrl.Document
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /documents/{id}/reingest [post]
func (h *Handler) ReingestDocument(c *gin.Context) {
	doc, ok := h.loadDocument(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.documents.UpdateStatus(ctx, doc.ID, documentctrl.StatusPending, ""); err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	if _, err := h.jobs.EnqueueIngestion(ctx, doc.ID); err != nil {
		sendError(c, http.StatusInternalServerError, fmt.Errorf("failed to enqueue ingestion: %w", err))
		return
	}

	doc.Status = documentctrl.StatusPending
	doc.ErrorMessage = ""
	sendJSON(c, http.StatusAccepted, doc)
}

func (h *Handler) loadDocument(c *gin.Context) (*documentctrl.Document, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		sendError(c, http.StatusBadRequest, fmt.Errorf("invalid document id: %w", err))
		return nil, false
	}

	doc, err := h.documents.GetByID(c.Request.Context(), id)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return nil, false
	}
	if doc == nil {
		sendError(c, http.StatusNotFound, ErrDocumentNotFound)
		return nil, false
	}
	return doc, true
}
