package services

import (
  "context"
  "encoding/json"
  "errors"
  "strings"

  "github.com/google/uuid"
  "gorm.io/datatypes"
  "gorm.io/gorm"

  "github.com/converse-labs/converse-backend/internal/apperrors"
  "github.com/converse-labs/converse-backend/internal/logger"
  "github.com/converse-labs/converse-backend/internal/repos"
  "github.com/converse-labs/converse-backend/internal/requestdata"
  "github.com/converse-labs/converse-backend/internal/turnlock"
  "github.com/converse-labs/converse-backend/internal/types"
)

// ChatService coordinates the conversation store and the completion
// gateway for one turn at a time per conversation.
type ChatService interface {
  CreateConversation(ctx context.Context, title string) (*types.Conversation, error)
  ListConversations(ctx context.Context) ([]types.Conversation, error)
  GetMessages(ctx context.Context, conversationID uuid.UUID) ([]types.Message, error)
  // SendMessage runs one turn. On a gateway failure both returned
  // messages are still durable: the user message committed, the
  // assistant placeholder failed, and the error carries the gateway kind.
  SendMessage(ctx context.Context, conversationID uuid.UUID, content string) (*types.Message, *types.Message, error)
}

type chatService struct {
  log               *logger.Logger
  conversationRepo  repos.ConversationRepo
  messageRepo       repos.MessageRepo
  completion        CompletionService
  locks             turnlock.Lock
  historyWindow     int
}

func NewChatService(
  log               *logger.Logger,
  conversationRepo  repos.ConversationRepo,
  messageRepo       repos.MessageRepo,
  completion        CompletionService,
  locks             turnlock.Lock,
  historyWindow     int,
) ChatService {
  serviceLog := log.With("service", "ChatService")
  if historyWindow < 1 {
    historyWindow = 50
  }
  return &chatService{
    log:              serviceLog,
    conversationRepo: conversationRepo,
    messageRepo:      messageRepo,
    completion:       completion,
    locks:            locks,
    historyWindow:    historyWindow,
  }
}

func (cs *chatService) CreateConversation(ctx context.Context, title string) (*types.Conversation, error) {
  rd := requestdata.GetRequestData(ctx)
  if rd == nil {
    return nil, apperrors.New(apperrors.KindUnauthorized, "no authenticated user in context")
  }
  conversation := &types.Conversation{
    ID:     uuid.New(),
    UserID: rd.UserID,
    Title:  strings.TrimSpace(title),
  }
  created, err := cs.conversationRepo.Create(ctx, nil, conversation)
  if err != nil {
    cs.log.Warn("Failed to create conversation, Cannot proceed. Returning error.", "error", err)
    return nil, apperrors.Wrap(apperrors.KindInternal, "failed to create conversation", err)
  }
  return created, nil
}

func (cs *chatService) ListConversations(ctx context.Context) ([]types.Conversation, error) {
  rd := requestdata.GetRequestData(ctx)
  if rd == nil {
    return nil, apperrors.New(apperrors.KindUnauthorized, "no authenticated user in context")
  }
  conversations, err := cs.conversationRepo.GetUserConversations(ctx, nil, rd.UserID)
  if err != nil {
    cs.log.Warn("Failed to list conversations, Cannot proceed. Returning error.", "error", err)
    return nil, apperrors.Wrap(apperrors.KindInternal, "failed to list conversations", err)
  }
  return conversations, nil
}

func (cs *chatService) GetMessages(ctx context.Context, conversationID uuid.UUID) ([]types.Message, error) {
  _, err := cs.ownedConversation(ctx, conversationID)
  if err != nil {
    return nil, err
  }
  messages, err := cs.messageRepo.GetByConversationID(ctx, nil, conversationID)
  if err != nil {
    cs.log.Warn("Failed to fetch messages, Cannot proceed. Returning error.", "error", err)
    return nil, apperrors.Wrap(apperrors.KindInternal, "failed to fetch messages", err)
  }
  return messages, nil
}

func (cs *chatService) SendMessage(ctx context.Context, conversationID uuid.UUID, content string) (*types.Message, *types.Message, error) {
  content = strings.TrimSpace(content)
  if content == "" {
    return nil, nil, apperrors.New(apperrors.KindBadRequest, "message content must not be empty")
  }
  if _, err := cs.ownedConversation(ctx, conversationID); err != nil {
    return nil, nil, err
  }

  acquired, err := cs.locks.TryAcquire(ctx, conversationID)
  if err != nil {
    cs.log.Warn("Failed to acquire turn lock, Cannot proceed. Returning error.", "conversationID", conversationID, "error", err)
    return nil, nil, apperrors.Wrap(apperrors.KindInternal, "failed to acquire turn lock", err)
  }
  if !acquired {
    return nil, nil, apperrors.New(apperrors.KindConflict, "a turn is already in flight on this conversation")
  }

  // The caller may disconnect mid-turn; the turn still has to reach a
  // terminal, gap-free state, so everything past validation runs on a
  // context that survives cancellation.
  turnCtx := context.WithoutCancel(ctx)
  defer func() {
    if rErr := cs.locks.Release(turnCtx, conversationID); rErr != nil {
      cs.log.Warn("Failed to release turn lock.", "conversationID", conversationID, "error", rErr)
    }
  }()

  userMsg, err := cs.messageRepo.Append(turnCtx, nil, conversationID, types.RoleUser, content, types.StatusCommitted, nil)
  if err != nil {
    cs.log.Warn("Failed to append user message, Cannot proceed. Returning error.", "conversationID", conversationID, "error", err)
    return nil, nil, apperrors.Wrap(apperrors.KindInternal, "failed to append user message", err)
  }

  history, err := cs.messageRepo.GetRecentWindow(turnCtx, nil, conversationID, cs.historyWindow)
  if err != nil {
    // The user message is already durable; a single-message window still
    // yields a valid provider call.
    cs.log.Warn("Failed to load history window, sending the user message alone.", "conversationID", conversationID, "error", err)
    history = []types.Message{*userMsg}
  }

  reply, usage, gErr := cs.completion.Complete(turnCtx, history)
  if gErr != nil {
    assistantMsg := cs.appendAssistant(turnCtx, conversationID, "", types.StatusFailed, failureMeta(gErr))
    return userMsg, assistantMsg, gErr
  }

  assistantMsg := cs.appendAssistant(turnCtx, conversationID, reply, types.StatusCommitted, usageMeta(usage))
  if assistantMsg == nil {
    return userMsg, nil, apperrors.New(apperrors.KindInternal, "failed to append assistant message")
  }
  return userMsg, assistantMsg, nil
}

func (cs *chatService) appendAssistant(ctx context.Context, conversationID uuid.UUID, content, status string, meta datatypes.JSON) *types.Message {
  msg, err := cs.messageRepo.Append(ctx, nil, conversationID, types.RoleAssistant, content, status, meta)
  if err != nil {
    cs.log.Error("Failed to append assistant message.", "conversationID", conversationID, "status", status, "error", err)
    return nil
  }
  return msg
}

// ownedConversation resolves the conversation and enforces ownership
// before any mutation.
func (cs *chatService) ownedConversation(ctx context.Context, conversationID uuid.UUID) (*types.Conversation, error) {
  rd := requestdata.GetRequestData(ctx)
  if rd == nil {
    return nil, apperrors.New(apperrors.KindUnauthorized, "no authenticated user in context")
  }
  conversation, err := cs.conversationRepo.GetByID(ctx, nil, conversationID)
  if err != nil {
    if errors.Is(err, gorm.ErrRecordNotFound) {
      return nil, apperrors.New(apperrors.KindNotFound, "conversation does not exist")
    }
    cs.log.Warn("Failed to fetch conversation, Cannot proceed. Returning error.", "error", err)
    return nil, apperrors.Wrap(apperrors.KindInternal, "failed to fetch conversation", err)
  }
  if conversation.UserID != rd.UserID {
    return nil, apperrors.New(apperrors.KindForbidden, "conversation is owned by another user")
  }
  return conversation, nil
}

func usageMeta(usage *CompletionUsage) datatypes.JSON {
  if usage == nil {
    return nil
  }
  raw, err := json.Marshal(usage)
  if err != nil {
    return nil
  }
  return datatypes.JSON(raw)
}

func failureMeta(gErr error) datatypes.JSON {
  raw, err := json.Marshal(map[string]string{
    "error": apperrors.KindOf(gErr).String(),
  })
  if err != nil {
    return nil
  }
  return datatypes.JSON(raw)
}
