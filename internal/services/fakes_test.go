package services

import (
  "context"
  "sort"
  "sync"
  "time"

  "github.com/google/uuid"
  "gorm.io/datatypes"
  "gorm.io/gorm"

  "github.com/converse-labs/converse-backend/internal/types"
)

// In-memory fakes for the repos so the services can be exercised without
// a database. The tx argument is ignored throughout.

type fakeUserRepo struct {
  mu      sync.Mutex
  users   map[uuid.UUID]*types.User
}

func newFakeUserRepo() *fakeUserRepo {
  return &fakeUserRepo{users: map[uuid.UUID]*types.User{}}
}

func (f *fakeUserRepo) Create(ctx context.Context, tx *gorm.DB, user *types.User) (*types.User, error) {
  f.mu.Lock()
  defer f.mu.Unlock()
  for _, u := range f.users {
    if u.Handle == user.Handle {
      return nil, gorm.ErrDuplicatedKey
    }
  }
  cp := *user
  cp.CreatedAt = time.Now()
  f.users[cp.ID] = &cp
  return &cp, nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.User, error) {
  f.mu.Lock()
  defer f.mu.Unlock()
  u, ok := f.users[id]
  if !ok {
    return nil, gorm.ErrRecordNotFound
  }
  cp := *u
  return &cp, nil
}

func (f *fakeUserRepo) GetByHandle(ctx context.Context, tx *gorm.DB, handle string) (*types.User, error) {
  f.mu.Lock()
  defer f.mu.Unlock()
  for _, u := range f.users {
    if u.Handle == handle {
      cp := *u
      return &cp, nil
    }
  }
  return nil, nil
}

func (f *fakeUserRepo) HandleExists(ctx context.Context, tx *gorm.DB, handle string) (bool, error) {
  u, _ := f.GetByHandle(ctx, tx, handle)
  return u != nil, nil
}

type fakeUserTokenRepo struct {
  mu      sync.Mutex
  tokens  map[uuid.UUID]*types.UserToken
}

func newFakeUserTokenRepo() *fakeUserTokenRepo {
  return &fakeUserTokenRepo{tokens: map[uuid.UUID]*types.UserToken{}}
}

func (f *fakeUserTokenRepo) Create(ctx context.Context, tx *gorm.DB, token *types.UserToken) (*types.UserToken, error) {
  f.mu.Lock()
  defer f.mu.Unlock()
  cp := *token
  f.tokens[cp.ID] = &cp
  return &cp, nil
}

func (f *fakeUserTokenRepo) GetByAccessToken(ctx context.Context, tx *gorm.DB, accessToken string) (*types.UserToken, error) {
  f.mu.Lock()
  defer f.mu.Unlock()
  for _, t := range f.tokens {
    if t.AccessToken == accessToken {
      cp := *t
      return &cp, nil
    }
  }
  return nil, nil
}

func (f *fakeUserTokenRepo) GetByRefreshToken(ctx context.Context, tx *gorm.DB, refreshToken string) (*types.UserToken, error) {
  f.mu.Lock()
  defer f.mu.Unlock()
  for _, t := range f.tokens {
    if t.RefreshToken == refreshToken {
      cp := *t
      return &cp, nil
    }
  }
  return nil, nil
}

func (f *fakeUserTokenRepo) FullDelete(ctx context.Context, tx *gorm.DB, token *types.UserToken) error {
  f.mu.Lock()
  defer f.mu.Unlock()
  delete(f.tokens, token.ID)
  return nil
}

func (f *fakeUserTokenRepo) DeleteExpiredForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error {
  f.mu.Lock()
  defer f.mu.Unlock()
  for id, t := range f.tokens {
    if t.UserID == userID && t.ExpiresAt.Before(time.Now()) {
      delete(f.tokens, id)
    }
  }
  return nil
}

type fakeConversationRepo struct {
  mu            sync.Mutex
  conversations map[uuid.UUID]*types.Conversation
}

func newFakeConversationRepo() *fakeConversationRepo {
  return &fakeConversationRepo{conversations: map[uuid.UUID]*types.Conversation{}}
}

func (f *fakeConversationRepo) Create(ctx context.Context, tx *gorm.DB, conversation *types.Conversation) (*types.Conversation, error) {
  f.mu.Lock()
  defer f.mu.Unlock()
  cp := *conversation
  cp.CreatedAt = time.Now()
  f.conversations[cp.ID] = &cp
  return &cp, nil
}

func (f *fakeConversationRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Conversation, error) {
  f.mu.Lock()
  defer f.mu.Unlock()
  c, ok := f.conversations[id]
  if !ok {
    return nil, gorm.ErrRecordNotFound
  }
  cp := *c
  return &cp, nil
}

func (f *fakeConversationRepo) GetUserConversations(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]types.Conversation, error) {
  f.mu.Lock()
  defer f.mu.Unlock()
  var out []types.Conversation
  for _, c := range f.conversations {
    if c.UserID == userID {
      out = append(out, *c)
    }
  }
  sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
  return out, nil
}

type fakeMessageRepo struct {
  mu        sync.Mutex
  messages  map[uuid.UUID][]types.Message
}

func newFakeMessageRepo() *fakeMessageRepo {
  return &fakeMessageRepo{messages: map[uuid.UUID][]types.Message{}}
}

func (f *fakeMessageRepo) Append(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID, role, content, status string, meta datatypes.JSON) (*types.Message, error) {
  f.mu.Lock()
  defer f.mu.Unlock()
  msg := types.Message{
    ID:             uuid.New(),
    ConversationID: conversationID,
    Seq:            int64(len(f.messages[conversationID]) + 1),
    Role:           role,
    Content:        content,
    Status:         status,
    ProviderMeta:   meta,
    CreatedAt:      time.Now(),
  }
  f.messages[conversationID] = append(f.messages[conversationID], msg)
  return &msg, nil
}

func (f *fakeMessageRepo) GetByConversationID(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID) ([]types.Message, error) {
  f.mu.Lock()
  defer f.mu.Unlock()
  out := make([]types.Message, len(f.messages[conversationID]))
  copy(out, f.messages[conversationID])
  return out, nil
}

func (f *fakeMessageRepo) GetRecentWindow(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID, limit int) ([]types.Message, error) {
  msgs, _ := f.GetByConversationID(ctx, tx, conversationID)
  if len(msgs) > limit {
    msgs = msgs[len(msgs)-limit:]
  }
  return msgs, nil
}

// scriptedCompletion lets each test decide what the provider does.
type scriptedCompletion struct {
  complete func(ctx context.Context, history []types.Message) (string, *CompletionUsage, error)
}

func (s *scriptedCompletion) Complete(ctx context.Context, history []types.Message) (string, *CompletionUsage, error) {
  return s.complete(ctx, history)
}
