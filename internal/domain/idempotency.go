package domain

import "time"

// ProcessedMessage records that an inbound provider message was accepted for
// processing, keyed by (phone_number_id, message_id). Webhook deliveries are
// at-least-once; a second delivery of the same message finds the receipt and
// is skipped instead of re-running the pipeline.
type ProcessedMessage struct {
	ID            string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	PhoneNumberID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_phone_message,priority:1"`
	MessageID     string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_phone_message,priority:2"`
	CreatedAt     time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt     time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (ProcessedMessage) TableName() string { return "processed_messages" }
