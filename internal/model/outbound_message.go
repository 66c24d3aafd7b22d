// internal/model/outbound_message.go
package model

import "time"

type MessageStatus string

const (
	MessagePending MessageStatus = "pending"
	MessageSent    MessageStatus = "sent"
	MessageFailed  MessageStatus = "failed"
)

type OutboundMessage struct {
	ID              int64         `db:"id" json:"id"`
	CampaignID      int           `db:"campaign_id" json:"campaign_id"`
	ContactID       int64         `db:"contact_id" json:"contact_id"`
	ConversationID  int64         `db:"conversation_id" json:"conversation_id"`
	SessionID       string        `db:"session_id" json:"session_id"`
	Status          MessageStatus `db:"status" json:"status"`
	RenderedContent string        `db:"rendered_content" json:"rendered_content"`
	LastError       string        `db:"last_error,omitempty" json:"last_error,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}
