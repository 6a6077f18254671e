package repos

import (
  "context"
  "errors"
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/converse-labs/converse-backend/internal/logger"
  "github.com/converse-labs/converse-backend/internal/types"
)

type UserTokenRepo interface {
  Create(ctx context.Context, tx *gorm.DB, token *types.UserToken) (*types.UserToken, error)
  GetByAccessToken(ctx context.Context, tx *gorm.DB, accessToken string) (*types.UserToken, error)
  GetByRefreshToken(ctx context.Context, tx *gorm.DB, refreshToken string) (*types.UserToken, error)
  FullDelete(ctx context.Context, tx *gorm.DB, token *types.UserToken) error
  DeleteExpiredForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error
}

type userTokenRepo struct {
  db      *gorm.DB
  log     *logger.Logger
}

func NewUserTokenRepo(db *gorm.DB, baseLog *logger.Logger) UserTokenRepo {
  return &userTokenRepo{
    db:  db,
    log: baseLog.With("repo", "UserTokenRepo"),
  }
}

func (utr *userTokenRepo) Create(ctx context.Context, tx *gorm.DB, token *types.UserToken) (*types.UserToken, error) {
  if tx == nil {
    tx = utr.db
  }
  if token.ID == uuid.Nil {
    token.ID = uuid.New()
  }
  if err := tx.WithContext(ctx).Create(token).Error; err != nil {
    utr.log.Error("failed to create user token", "error", err)
    return nil, err
  }
  return token, nil
}

// GetByAccessToken returns (nil, nil) when no row matches; a deleted row
// means the session was logged out.
func (utr *userTokenRepo) GetByAccessToken(ctx context.Context, tx *gorm.DB, accessToken string) (*types.UserToken, error) {
  if tx == nil {
    tx = utr.db
  }
  var t types.UserToken
  if err := tx.WithContext(ctx).
    Where("access_token = ?", accessToken).
    First(&t).Error; err != nil {
    if errors.Is(err, gorm.ErrRecordNotFound) {
      return nil, nil
    }
    return nil, err
  }
  return &t, nil
}

func (utr *userTokenRepo) GetByRefreshToken(ctx context.Context, tx *gorm.DB, refreshToken string) (*types.UserToken, error) {
  if tx == nil {
    tx = utr.db
  }
  var t types.UserToken
  if err := tx.WithContext(ctx).
    Where("refresh_token = ?", refreshToken).
    First(&t).Error; err != nil {
    if errors.Is(err, gorm.ErrRecordNotFound) {
      return nil, nil
    }
    return nil, err
  }
  return &t, nil
}

func (utr *userTokenRepo) FullDelete(ctx context.Context, tx *gorm.DB, token *types.UserToken) error {
  if tx == nil {
    tx = utr.db
  }
  if err := tx.WithContext(ctx).
    Unscoped().
    Delete(token).Error; err != nil {
    utr.log.Error("failed to delete user token", "error", err)
    return err
  }
  return nil
}

func (utr *userTokenRepo) DeleteExpiredForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error {
  if tx == nil {
    tx = utr.db
  }
  if err := tx.WithContext(ctx).
    Unscoped().
    Where("user_id = ? AND expires_at < ?", userID, time.Now()).
    Delete(&types.UserToken{}).Error; err != nil {
    utr.log.Error("failed to delete expired user tokens", "error", err)
    return err
  }
  return nil
}
