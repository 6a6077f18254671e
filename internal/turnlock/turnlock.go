package turnlock

import (
  "context"

  "github.com/google/uuid"
)

// Lock serializes turns per conversation: at most one send-message turn
// may hold a conversation's lock at a time. Different conversations never
// contend with each other.
type Lock interface {
  // TryAcquire returns false when another turn is already in flight on
  // the conversation. It never blocks.
  TryAcquire(ctx context.Context, conversationID uuid.UUID) (bool, error)
  Release(ctx context.Context, conversationID uuid.UUID) error
}
