package handler

import (
	"time"

	"tradecomply/internal/model"
)

// DocumentResponse represents an artifact and its processing outcome
type DocumentResponse struct {
	ID           string            `json:"id"`
	OriginalName string            `json:"original_name,omitempty"`
	StorageRef   string            `json:"storage_ref"`
	ContentType  string            `json:"content_type"`
	Status       model.Status      `json:"status"`
	Extraction   *model.Extraction `json:"extraction,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// NotificationResponse represents an unacknowledged alert
type NotificationResponse struct {
	ID         string    `json:"id"`
	ArtifactID string    `json:"artifact_id"`
	Type       string    `json:"type"`
	Message    string    `json:"message"`
	IsRead     bool      `json:"is_read"`
	CreatedAt  time.Time `json:"created_at"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func toDocumentResponse(a *model.Artifact) DocumentResponse {
	return DocumentResponse{
		ID:           a.ID,
		OriginalName: a.OriginalName,
		StorageRef:   a.StorageRef,
		ContentType:  a.ContentType,
		Status:       a.Status,
		Extraction:   a.Extraction,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func toNotificationResponse(a model.Alert) NotificationResponse {
	return NotificationResponse{
		ID:         a.ID,
		ArtifactID: a.ArtifactID,
		Type:       a.AlertType,
		Message:    a.Message,
		IsRead:     a.Acknowledged,
		CreatedAt:  a.CreatedAt,
	}
}
