package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradecomply/internal/database"
	"tradecomply/internal/model"
	"tradecomply/internal/service/dispatcher"
	"tradecomply/internal/service/scanner"
)

// ArtifactReader reads artifact records
type ArtifactReader interface {
	Get(ctx context.Context, id string) (*model.Artifact, error)
	List(ctx context.Context, limit int) ([]model.Artifact, error)
}

// AlertStore reads and acknowledges alerts
type AlertStore interface {
	ListUnacknowledged(ctx context.Context, limit int) ([]model.Alert, error)
	Acknowledge(ctx context.Context, id string) error
}

// Submitter records and enqueues new artifacts
type Submitter interface {
	Submit(ctx context.Context, in dispatcher.NewArtifact) (*model.Artifact, error)
}

// ScannerControl is the scanner surface exposed over HTTP
type ScannerControl interface {
	Start() error
	Stop() error
	IsRunning() bool
	RunOnce(ctx context.Context) (scanner.ScanReport, error)
	GetNextRun() time.Time
	GetLastRun() time.Time
}

// Handlers contains all HTTP handlers
type Handlers struct {
	db        *gorm.DB
	artifacts ArtifactReader
	alerts    AlertStore
	submitter Submitter
	scanner   ScannerControl
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, artifacts ArtifactReader, alerts AlertStore, submitter Submitter, scanner ScannerControl) *Handlers {
	return &Handlers{
		db:        db,
		artifacts: artifacts,
		alerts:    alerts,
		submitter: submitter,
		scanner:   scanner,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.POST("/documents", h.CreateDocument)
		api.GET("/documents", h.ListDocuments)
		api.GET("/documents/:id", h.GetDocument)

		api.GET("/notifications", h.GetNotifications)
		api.PATCH("/notifications/:id/read", h.AcknowledgeNotification)

		api.POST("/scanner/start", h.StartScanner)
		api.POST("/scanner/stop", h.StopScanner)
		api.POST("/scanner/run-once", h.RunScanOnce)
		api.GET("/scanner/status", h.GetScannerStatus)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Metrics:   make(map[string]string),
	}

	if err := database.Ping(h.db); err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.scanner != nil && h.scanner.IsRunning() {
		response.Metrics["scanner"] = "running"
		response.Metrics["next_run"] = h.scanner.GetNextRun().Format(time.RFC3339)
	} else {
		response.Metrics["scanner"] = "stopped"
	}
	if h.scanner != nil {
		if last := h.scanner.GetLastRun(); !last.IsZero() {
			response.Metrics["last_run"] = last.Format(time.RFC3339)
		}
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

func abortWithError(c *gin.Context, code int, errType, message string) {
	c.JSON(code, ErrorResponse{
		Error:   errType,
		Message: message,
		Code:    code,
	})
}
