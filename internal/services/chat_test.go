package services

import (
  "context"
  "encoding/json"
  "sync"
  "testing"
  "time"

  "github.com/google/uuid"

  "github.com/converse-labs/converse-backend/internal/apperrors"
  "github.com/converse-labs/converse-backend/internal/logger"
  "github.com/converse-labs/converse-backend/internal/requestdata"
  "github.com/converse-labs/converse-backend/internal/turnlock"
  "github.com/converse-labs/converse-backend/internal/types"
)

type chatTestEnv struct {
  chat      ChatService
  convRepo  *fakeConversationRepo
  msgRepo   *fakeMessageRepo
  gateway   *scriptedCompletion
}

func newChatTestEnv(historyWindow int) *chatTestEnv {
  convRepo := newFakeConversationRepo()
  msgRepo := newFakeMessageRepo()
  gateway := &scriptedCompletion{
    complete: func(ctx context.Context, history []types.Message) (string, *CompletionUsage, error) {
      return "hello", &CompletionUsage{Model: "test-model", TotalTokens: 2}, nil
    },
  }
  chat := NewChatService(logger.NewNop(), convRepo, msgRepo, gateway, turnlock.NewLocalLock(logger.NewNop()), historyWindow)
  return &chatTestEnv{chat: chat, convRepo: convRepo, msgRepo: msgRepo, gateway: gateway}
}

func authedCtx(userID uuid.UUID) context.Context {
  return requestdata.WithRequestData(context.Background(), &requestdata.RequestData{UserID: userID})
}

func (env *chatTestEnv) newConversation(t *testing.T, ctx context.Context) uuid.UUID {
  t.Helper()
  conversation, err := env.chat.CreateConversation(ctx, "")
  if err != nil {
    t.Fatalf("create conversation: %v", err)
  }
  return conversation.ID
}

func TestSendMessageSuccessTurn(t *testing.T) {
  env := newChatTestEnv(50)
  ctx := authedCtx(uuid.New())
  convID := env.newConversation(t, ctx)

  userMsg, assistantMsg, err := env.chat.SendMessage(ctx, convID, "hi")
  if err != nil {
    t.Fatalf("send: %v", err)
  }
  if userMsg.Seq != 1 || userMsg.Role != types.RoleUser || userMsg.Content != "hi" || userMsg.Status != types.StatusCommitted {
    t.Errorf("user message = %+v", userMsg)
  }
  if assistantMsg.Seq != 2 || assistantMsg.Role != types.RoleAssistant || assistantMsg.Content != "hello" || assistantMsg.Status != types.StatusCommitted {
    t.Errorf("assistant message = %+v", assistantMsg)
  }
  var meta CompletionUsage
  if err := json.Unmarshal(assistantMsg.ProviderMeta, &meta); err != nil {
    t.Fatalf("provider meta: %v", err)
  }
  if meta.Model != "test-model" {
    t.Errorf("meta model = %q", meta.Model)
  }
}

func TestSendMessageGatewayFailureTurn(t *testing.T) {
  env := newChatTestEnv(50)
  ctx := authedCtx(uuid.New())
  convID := env.newConversation(t, ctx)

  if _, _, err := env.chat.SendMessage(ctx, convID, "hi"); err != nil {
    t.Fatalf("first send: %v", err)
  }

  env.gateway.complete = func(ctx context.Context, history []types.Message) (string, *CompletionUsage, error) {
    return "", nil, apperrors.New(apperrors.KindGatewayTimeout, "completion provider timed out")
  }
  userMsg, assistantMsg, err := env.chat.SendMessage(ctx, convID, "still there?")
  if !apperrors.Is(err, apperrors.KindGatewayTimeout) {
    t.Fatalf("got %v, want GatewayTimeout", err)
  }
  if userMsg == nil || userMsg.Seq != 3 || userMsg.Status != types.StatusCommitted {
    t.Errorf("user message = %+v, want committed seq 3", userMsg)
  }
  if assistantMsg == nil || assistantMsg.Seq != 4 || assistantMsg.Status != types.StatusFailed || assistantMsg.Content != "" {
    t.Errorf("assistant message = %+v, want failed empty seq 4", assistantMsg)
  }

  // The whole log stays gap-free and alternating.
  msgs, err := env.chat.GetMessages(ctx, convID)
  if err != nil {
    t.Fatalf("get messages: %v", err)
  }
  if len(msgs) != 4 {
    t.Fatalf("got %d messages, want 4", len(msgs))
  }
  for i, msg := range msgs {
    if msg.Seq != int64(i+1) {
      t.Errorf("message %d has seq %d", i, msg.Seq)
    }
  }
  if msgs[1].Role != types.RoleAssistant || msgs[2].Role != types.RoleUser || msgs[3].Role != types.RoleAssistant {
    t.Error("roles must alternate user/assistant")
  }
}

func TestSendMessageValidation(t *testing.T) {
  env := newChatTestEnv(50)
  alice := uuid.New()
  ctx := authedCtx(alice)
  convID := env.newConversation(t, ctx)

  if _, _, err := env.chat.SendMessage(ctx, convID, "   "); !apperrors.Is(err, apperrors.KindBadRequest) {
    t.Errorf("blank content: got %v, want BadRequest", err)
  }
  if _, _, err := env.chat.SendMessage(ctx, uuid.New(), "hi"); !apperrors.Is(err, apperrors.KindNotFound) {
    t.Errorf("unknown conversation: got %v, want NotFound", err)
  }
  bobCtx := authedCtx(uuid.New())
  if _, _, err := env.chat.SendMessage(bobCtx, convID, "hi"); !apperrors.Is(err, apperrors.KindForbidden) {
    t.Errorf("cross-user send: got %v, want Forbidden", err)
  }
  // Validation failures never append anything.
  msgs, _ := env.chat.GetMessages(ctx, convID)
  if len(msgs) != 0 {
    t.Errorf("validation failures mutated the log: %d messages", len(msgs))
  }
}

func TestGetMessagesOwnership(t *testing.T) {
  env := newChatTestEnv(50)
  aliceCtx := authedCtx(uuid.New())
  convID := env.newConversation(t, aliceCtx)

  bobCtx := authedCtx(uuid.New())
  if _, err := env.chat.GetMessages(bobCtx, convID); !apperrors.Is(err, apperrors.KindForbidden) {
    t.Errorf("cross-user read: got %v, want Forbidden", err)
  }
  if _, err := env.chat.GetMessages(aliceCtx, uuid.New()); !apperrors.Is(err, apperrors.KindNotFound) {
    t.Errorf("unknown conversation: got %v, want NotFound", err)
  }
}

func TestGetMessagesIdempotent(t *testing.T) {
  env := newChatTestEnv(50)
  ctx := authedCtx(uuid.New())
  convID := env.newConversation(t, ctx)
  if _, _, err := env.chat.SendMessage(ctx, convID, "hi"); err != nil {
    t.Fatalf("send: %v", err)
  }

  first, err := env.chat.GetMessages(ctx, convID)
  if err != nil {
    t.Fatalf("first read: %v", err)
  }
  second, err := env.chat.GetMessages(ctx, convID)
  if err != nil {
    t.Fatalf("second read: %v", err)
  }
  if len(first) != len(second) {
    t.Fatalf("reads differ in length: %d vs %d", len(first), len(second))
  }
  for i := range first {
    if first[i].ID != second[i].ID || first[i].Seq != second[i].Seq {
      t.Errorf("reads differ at index %d", i)
    }
  }
}

func TestSendMessageConflictOnSameConversation(t *testing.T) {
  env := newChatTestEnv(50)
  ctx := authedCtx(uuid.New())
  convID := env.newConversation(t, ctx)

  entered := make(chan struct{})
  release := make(chan struct{})
  env.gateway.complete = func(ctx context.Context, history []types.Message) (string, *CompletionUsage, error) {
    close(entered)
    <-release
    return "hello", nil, nil
  }

  var wg sync.WaitGroup
  wg.Add(1)
  var firstErr error
  go func() {
    defer wg.Done()
    _, _, firstErr = env.chat.SendMessage(ctx, convID, "first")
  }()

  select {
  case <-entered:
  case <-time.After(2 * time.Second):
    t.Fatal("first turn never reached the gateway")
  }

  _, _, err := env.chat.SendMessage(ctx, convID, "second")
  if !apperrors.Is(err, apperrors.KindConflict) {
    t.Fatalf("concurrent send: got %v, want Conflict", err)
  }

  close(release)
  wg.Wait()
  if firstErr != nil {
    t.Fatalf("first turn: %v", firstErr)
  }

  // Only the first turn appended; retry works once the turn is over.
  msgs, _ := env.chat.GetMessages(ctx, convID)
  if len(msgs) != 2 {
    t.Fatalf("got %d messages, want 2", len(msgs))
  }
  env.gateway.complete = func(ctx context.Context, history []types.Message) (string, *CompletionUsage, error) {
    return "again", nil, nil
  }
  if _, _, err := env.chat.SendMessage(ctx, convID, "second try"); err != nil {
    t.Fatalf("send after release: %v", err)
  }
}

func TestSendMessageParallelConversations(t *testing.T) {
  env := newChatTestEnv(50)
  ctx := authedCtx(uuid.New())
  convA := env.newConversation(t, ctx)
  convB := env.newConversation(t, ctx)

  // Both turns must be in flight at once: each gateway call waits for
  // the other to arrive before replying.
  var entered sync.WaitGroup
  entered.Add(2)
  proceed := make(chan struct{})
  var once sync.Once
  go func() {
    entered.Wait()
    once.Do(func() { close(proceed) })
  }()
  env.gateway.complete = func(ctx context.Context, history []types.Message) (string, *CompletionUsage, error) {
    entered.Done()
    select {
    case <-proceed:
    case <-time.After(2 * time.Second):
      return "", nil, apperrors.New(apperrors.KindGatewayTimeout, "turns did not overlap")
    }
    return "hello", nil, nil
  }

  var wg sync.WaitGroup
  errs := make([]error, 2)
  for i, id := range []uuid.UUID{convA, convB} {
    wg.Add(1)
    go func(i int, id uuid.UUID) {
      defer wg.Done()
      _, _, errs[i] = env.chat.SendMessage(ctx, id, "hi")
    }(i, id)
  }
  wg.Wait()
  for i, err := range errs {
    if err != nil {
      t.Errorf("turn %d: %v", i, err)
    }
  }
}

func TestSendMessageHistoryWindow(t *testing.T) {
  env := newChatTestEnv(3)
  ctx := authedCtx(uuid.New())
  convID := env.newConversation(t, ctx)

  var seen []types.Message
  env.gateway.complete = func(ctx context.Context, history []types.Message) (string, *CompletionUsage, error) {
    seen = append([]types.Message(nil), history...)
    return "ok", nil, nil
  }

  for _, content := range []string{"one", "two", "three"} {
    if _, _, err := env.chat.SendMessage(ctx, convID, content); err != nil {
      t.Fatalf("send %q: %v", content, err)
    }
  }

  if len(seen) != 3 {
    t.Fatalf("window carried %d messages, want 3", len(seen))
  }
  // Chronological, and the just-appended user message is last.
  for i := 1; i < len(seen); i++ {
    if seen[i].Seq <= seen[i-1].Seq {
      t.Error("window out of order")
    }
  }
  last := seen[len(seen)-1]
  if last.Role != types.RoleUser || last.Content != "three" {
    t.Errorf("window must end with the new user message, got %+v", last)
  }
}

func TestListConversationsNewestFirst(t *testing.T) {
  env := newChatTestEnv(50)
  alice := uuid.New()
  ctx := authedCtx(alice)

  first := env.newConversation(t, ctx)
  time.Sleep(5 * time.Millisecond)
  second := env.newConversation(t, ctx)

  // Another user's conversation stays invisible.
  env.newConversation(t, authedCtx(uuid.New()))

  conversations, err := env.chat.ListConversations(ctx)
  if err != nil {
    t.Fatalf("list: %v", err)
  }
  if len(conversations) != 2 {
    t.Fatalf("got %d conversations, want 2", len(conversations))
  }
  if conversations[0].ID != second || conversations[1].ID != first {
    t.Error("conversations not in most-recently-created order")
  }
}
