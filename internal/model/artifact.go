package model

import (
	"fmt"
	"time"
)

// Extraction is the structured result of analysing an artifact
type Extraction struct {
	DocType    string  `json:"docType,omitempty"`
	Deadline   string  `json:"deadline,omitempty"`
	IDNumber   string  `json:"idNumber,omitempty"`
	HolderName string  `json:"holderName,omitempty"`
	Confidence float64 `json:"confidence"`
	Content    string  `json:"content,omitempty"`
}

// Artifact represents an uploaded document and its processing state
type Artifact struct {
	ID           string      `json:"id" gorm:"type:varchar(36);primaryKey"`
	StorageRef   string      `json:"storage_ref" gorm:"type:varchar(1024);not null"`
	ContentType  string      `json:"content_type" gorm:"type:varchar(255);not null"`
	OriginalName string      `json:"original_name" gorm:"type:varchar(255)"`
	Status       Status      `json:"status" gorm:"type:varchar(20);not null;default:pending;index:idx_artifacts_status_created,priority:1"`
	Extraction   *Extraction `json:"extraction,omitempty" gorm:"serializer:json;type:text"`
	CreatedAt    time.Time   `json:"created_at" gorm:"index:idx_artifacts_status_created,priority:2"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// TableName specifies the table name for Artifact
func (Artifact) TableName() string {
	return "artifacts"
}

// Validate checks that status and extraction agree: an extraction exists
// exactly when the artifact is processed.
func (a *Artifact) Validate() error {
	if !a.Status.Valid() {
		return fmt.Errorf("artifact %s: unknown status %q", a.ID, a.Status)
	}
	if a.Status == StatusProcessed && a.Extraction == nil {
		return fmt.Errorf("artifact %s: processed without extraction", a.ID)
	}
	if a.Status != StatusProcessed && a.Extraction != nil {
		return fmt.Errorf("artifact %s: extraction present while %s", a.ID, a.Status)
	}
	return nil
}

// Payload builds the queue payload that asks for this artifact to be processed
func (a *Artifact) Payload() Payload {
	return Payload{ArtifactID: a.ID, StorageRef: a.StorageRef, ContentType: a.ContentType}
}

// Payload is the body of a processing message
type Payload struct {
	ArtifactID  string `json:"docId"`
	StorageRef  string `json:"key"`
	ContentType string `json:"mimeType"`
}

// Validate ensures the payload identifies an artifact
func (p Payload) Validate() error {
	if p.ArtifactID == "" {
		return fmt.Errorf("payload missing artifact id")
	}
	return nil
}
