package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tradecomply/internal/repository"
	"tradecomply/internal/service/dispatcher"
)

const (
	defaultDocumentLimit = 20
	maxDocumentLimit     = 100
)

// CreateDocument records an already stored document and queues it for processing
func (h *Handlers) CreateDocument(c *gin.Context) {
	var req dispatcher.NewArtifact
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	artifact, err := h.submitter.Submit(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, dispatcher.ErrQueueUnavailable) && artifact != nil {
			c.JSON(http.StatusAccepted, gin.H{
				"message":  "Document recorded but could not be queued for processing",
				"document": toDocumentResponse(artifact),
			})
			return
		}
		logrus.Errorf("Failed to submit document: %v", err)
		abortWithError(c, http.StatusInternalServerError, "database_error", "Failed to record document")
		return
	}

	c.JSON(http.StatusCreated, toDocumentResponse(artifact))
}

// ListDocuments returns the newest documents
func (h *Handlers) ListDocuments(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultDocumentLimit)))
	if limit < 1 || limit > maxDocumentLimit {
		limit = defaultDocumentLimit
	}

	artifacts, err := h.artifacts.List(c.Request.Context(), limit)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "database_error", "Failed to fetch documents")
		return
	}

	responses := make([]DocumentResponse, 0, len(artifacts))
	for i := range artifacts {
		responses = append(responses, toDocumentResponse(&artifacts[i]))
	}
	c.JSON(http.StatusOK, responses)
}

// GetDocument returns a document's status and extraction
func (h *Handlers) GetDocument(c *gin.Context) {
	artifact, err := h.artifacts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			abortWithError(c, http.StatusNotFound, "not_found", "Document not found")
			return
		}
		abortWithError(c, http.StatusInternalServerError, "database_error", "Failed to fetch document")
		return
	}

	c.JSON(http.StatusOK, toDocumentResponse(artifact))
}
