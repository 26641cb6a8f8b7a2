package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// StartScanner starts the compliance scanner
func (h *Handlers) StartScanner(c *gin.Context) {
	if err := h.scanner.Start(); err != nil {
		logrus.Warnf("Failed to start scanner: %v", err)
		abortWithError(c, http.StatusConflict, "scanner_error", "Failed to start scanner")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scanner started successfully",
		"status":  "running",
	})
}

// StopScanner stops the compliance scanner
func (h *Handlers) StopScanner(c *gin.Context) {
	if err := h.scanner.Stop(); err != nil {
		abortWithError(c, http.StatusInternalServerError, "scanner_error", "Failed to stop scanner")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scanner stopped successfully",
		"status":  "stopped",
	})
}

// RunScanOnce runs one compliance scan and returns its report
func (h *Handlers) RunScanOnce(c *gin.Context) {
	report, err := h.scanner.RunOnce(c.Request.Context())
	if err != nil {
		logrus.Errorf("Manual scan failed: %v", err)
		abortWithError(c, http.StatusInternalServerError, "scanner_error", "Failed to run compliance scan")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Compliance scan completed successfully",
		"report":  report,
	})
}

// GetScannerStatus returns the current scanner status
func (h *Handlers) GetScannerStatus(c *gin.Context) {
	status := "stopped"
	if h.scanner.IsRunning() {
		status = "running"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"next_run": h.scanner.GetNextRun(),
		"last_run": h.scanner.GetLastRun(),
	})
}
