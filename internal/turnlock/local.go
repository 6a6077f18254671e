package turnlock

import (
  "context"
  "sync"

  "github.com/google/uuid"

  "github.com/converse-labs/converse-backend/internal/logger"
)

// LocalLock keeps the in-flight conversation set in process memory. It is
// the right choice whenever a conversation is only ever served by one
// process.
type LocalLock struct {
  log     *logger.Logger
  mu      sync.Mutex
  held    map[uuid.UUID]struct{}
}

func NewLocalLock(baseLog *logger.Logger) *LocalLock {
  return &LocalLock{
    log:  baseLog.With("component", "LocalTurnLock"),
    held: make(map[uuid.UUID]struct{}),
  }
}

func (ll *LocalLock) TryAcquire(ctx context.Context, conversationID uuid.UUID) (bool, error) {
  ll.mu.Lock()
  defer ll.mu.Unlock()
  if _, busy := ll.held[conversationID]; busy {
    return false, nil
  }
  ll.held[conversationID] = struct{}{}
  return true, nil
}

func (ll *LocalLock) Release(ctx context.Context, conversationID uuid.UUID) error {
  ll.mu.Lock()
  defer ll.mu.Unlock()
  if _, busy := ll.held[conversationID]; !busy {
    ll.log.Warn("release of a conversation that was not held", "conversationID", conversationID)
    return nil
  }
  delete(ll.held, conversationID)
  return nil
}
