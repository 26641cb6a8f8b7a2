package model

import "time"

// QueueMessage is a row of the database-backed processing queue
type QueueMessage struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Body         string    `json:"body" gorm:"type:text;not null"`
	ReceiptToken string    `json:"receipt_token" gorm:"type:varchar(64);index"`
	VisibleAt    time.Time `json:"visible_at" gorm:"not null;index"`
	ReceiveCount int       `json:"receive_count" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName specifies the table name for QueueMessage
func (QueueMessage) TableName() string {
	return "queue_messages"
}
