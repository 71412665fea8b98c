package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"docpilot/src/core/chunkstore"
	"docpilot/src/core/orchestrator"
	"docpilot/src/infrastructure/job"
	"docpilot/src/storage/minioctrl"
	"docpilot/src/storage/postgres/documentctrl"
	"docpilot/src/storage/postgres/sessionctrl"
)

// ErrDocumentNotFound maps to a 404 on every document route.
var ErrDocumentNotFound = errors.New("document not found")

type Handler struct {
	documents    *documentctrl.DocumentService
	sessions     *sessionctrl.SessionService
	objects      *minioctrl.MinioService
	chunks       *chunkstore.Store
	jobs         *job.JobService
	orchestrator *orchestrator.Service

	chunkSize    int
	chunkOverlap int
	queryTimeout time.Duration
}

func NewHandler(
	documents *documentctrl.DocumentService,
	sessions *sessionctrl.SessionService,
	objects *minioctrl.MinioService,
	chunks *chunkstore.Store,
	jobs *job.JobService,
	orch *orchestrator.Service,
	chunkSize, chunkOverlap int,
	queryTimeout time.Duration,
) *Handler {
	return &Handler{
		documents:    documents,
		sessions:     sessions,
		objects:      objects,
		chunks:       chunks,
		jobs:         jobs,
		orchestrator: orch,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		queryTimeout: queryTimeout,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	v1 := r.Group("/api/v1")

	// Document routes
	v1.POST("/documents", h.UploadDocument)
	v1.GET("/documents", h.ListDocuments)
	v1.GET("/documents/:id", h.GetDocument)
	v1.DELETE("/documents/:id", h.DeleteDocument)
	v1.POST("/documents/:id/reingest", h.ReingestDocument)

	// Chat routes
	v1.POST("/chat", h.Chat)
	v1.GET("/sessions/:id/turns", h.ListSessionTurns)

	// System routes
	v1.GET("/health", h.CheckHealth)
}

// Common error response structure
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func sendError(c *gin.Context, status int, err error) {
	var code string
	switch {
	case errors.Is(err, ErrDocumentNotFound):
		code = "NOT_FOUND"
		status = http.StatusNotFound
	case status == http.StatusBadRequest:
		code = "INVALID_REQUEST"
	default:
		code = "INTERNAL_ERROR"
		status = http.StatusInternalServerError
	}

	c.JSON(status, ErrorResponse{
		Code:    code,
		Message: err.Error(),
	})
}

func sendJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}
