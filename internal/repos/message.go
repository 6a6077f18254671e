package repos

import (
  "context"

  "github.com/google/uuid"
  "gorm.io/datatypes"
  "gorm.io/gorm"
  "gorm.io/gorm/clause"

  "github.com/converse-labs/converse-backend/internal/logger"
  "github.com/converse-labs/converse-backend/internal/types"
)

type MessageRepo interface {
  // Append assigns the next sequence number and inserts the message. The
  // conversation row is locked for the duration, so two appenders on the
  // same conversation can never claim the same seq. Runs in its own
  // transaction when tx is nil.
  Append(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID, role, content, status string, meta datatypes.JSON) (*types.Message, error)
  GetByConversationID(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID) ([]types.Message, error)
  // GetRecentWindow returns up to limit of the newest messages, still in
  // ascending seq order.
  GetRecentWindow(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID, limit int) ([]types.Message, error)
}

type messageRepo struct {
  db      *gorm.DB
  log     *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
  return &messageRepo{
    db:  db,
    log: baseLog.With("repo", "MessageRepo"),
  }
}

func (mr *messageRepo) Append(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID, role, content, status string, meta datatypes.JSON) (*types.Message, error) {
  var msg *types.Message
  appendFn := func(tx *gorm.DB) error {
    var conv types.Conversation
    if err := tx.WithContext(ctx).
      Clauses(clause.Locking{Strength: "UPDATE"}).
      Where("id = ?", conversationID).
      First(&conv).Error; err != nil {
      return err
    }
    var next int64
    if err := tx.WithContext(ctx).
      Model(&types.Message{}).
      Where("conversation_id = ?", conversationID).
      Select("COALESCE(MAX(seq), 0) + 1").
      Scan(&next).Error; err != nil {
      return err
    }
    m := types.Message{
      ID:             uuid.New(),
      ConversationID: conversationID,
      Seq:            next,
      Role:           role,
      Content:        content,
      Status:         status,
      ProviderMeta:   meta,
    }
    if err := tx.WithContext(ctx).Create(&m).Error; err != nil {
      return err
    }
    msg = &m
    return nil
  }
  var err error
  if tx == nil {
    err = mr.db.WithContext(ctx).Transaction(appendFn)
  } else {
    err = appendFn(tx)
  }
  if err != nil {
    mr.log.Error("failed to append message", "conversationID", conversationID, "role", role, "error", err)
    return nil, err
  }
  return msg, nil
}

func (mr *messageRepo) GetByConversationID(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID) ([]types.Message, error) {
  if tx == nil {
    tx = mr.db
  }
  var msgs []types.Message
  if err := tx.WithContext(ctx).
    Where("conversation_id = ?", conversationID).
    Order("seq ASC").
    Find(&msgs).Error; err != nil {
    mr.log.Error("failed to get messages by conversationID", "error", err)
    return nil, err
  }
  return msgs, nil
}

func (mr *messageRepo) GetRecentWindow(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID, limit int) ([]types.Message, error) {
  if tx == nil {
    tx = mr.db
  }
  var msgs []types.Message
  if err := tx.WithContext(ctx).
    Where("conversation_id = ?", conversationID).
    Order("seq DESC").
    Limit(limit).
    Find(&msgs).Error; err != nil {
    mr.log.Error("failed to get recent message window", "error", err)
    return nil, err
  }
  for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
    msgs[i], msgs[j] = msgs[j], msgs[i]
  }
  return msgs, nil
}
