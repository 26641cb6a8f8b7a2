package model

import "time"

// AlertTypeDeadlineWarning flags an artifact whose deadline falls inside the warning window
const AlertTypeDeadlineWarning = "DEADLINE_WARNING"

// Alert is raised at most once per (artifact, alert type)
type Alert struct {
	ID           string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	ArtifactID   string    `json:"artifact_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_alerts_artifact_type,priority:1"`
	AlertType    string    `json:"alert_type" gorm:"type:varchar(50);not null;uniqueIndex:ux_alerts_artifact_type,priority:2"`
	Message      string    `json:"message" gorm:"type:text;not null"`
	CreatedAt    time.Time `json:"created_at" gorm:"index"`
	Acknowledged bool      `json:"acknowledged" gorm:"not null;default:false;index"`
}

// TableName specifies the table name for Alert
func (Alert) TableName() string {
	return "alerts"
}
