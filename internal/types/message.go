package types

import (
  "time"

  "gorm.io/datatypes"
  "gorm.io/gorm"
  "github.com/google/uuid"
)

const (
  RoleUser        = "user"
  RoleAssistant   = "assistant"

  StatusCommitted = "committed"
  StatusFailed    = "failed"
)

// Message is one append-only entry in a conversation log. Seq is assigned
// by MessageRepo under a row lock on the owning conversation, so the
// (conversation_id, seq) series is gap-free and strictly increasing.
type Message struct {
  gorm.Model

  ID              uuid.UUID         `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
  ConversationID  uuid.UUID         `gorm:"not null;uniqueIndex:idx_conversation_seq" json:"conversationId"`
  Conversation    *Conversation     `gorm:"constraint:OnDelete:CASCADE;foreignKey:ConversationID;references:ID" json:"-"`

  Seq             int64             `gorm:"not null;uniqueIndex:idx_conversation_seq;column:seq" json:"seq"`
  Role            string            `gorm:"not null;column:role" json:"role"`
  Content         string            `gorm:"type:text;column:content" json:"content"`
  Status          string            `gorm:"not null;default:committed;column:status" json:"status"`
  ProviderMeta    datatypes.JSON    `gorm:"column:provider_meta" json:"providerMeta,omitempty"`

  CreatedAt       time.Time         `gorm:"not null;default:now()" json:"createdAt"`
  UpdatedAt       time.Time         `gorm:"not null;default:now()" json:"updatedAt"`
}

func (Message) TableName() string {
  return "message"
}
