package services

import (
  "context"
  "strings"
  "time"

  "golang.org/x/crypto/bcrypt"

  "github.com/golang-jwt/jwt/v5"
  "github.com/google/uuid"

  "github.com/converse-labs/converse-backend/internal/apperrors"
  "github.com/converse-labs/converse-backend/internal/logger"
  "github.com/converse-labs/converse-backend/internal/repos"
  "github.com/converse-labs/converse-backend/internal/requestdata"
  "github.com/converse-labs/converse-backend/internal/types"
  "github.com/converse-labs/converse-backend/internal/utils"
)

type JWTClaims struct {
  jwt.RegisteredClaims
}

// dummyHash is a bcrypt hash of a random string. Login compares against
// it when the handle is unknown so both failure paths cost one bcrypt
// comparison and return the same error.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

type AuthService interface {
  Register(ctx context.Context, handle, password string) (*types.User, error)
  Login(ctx context.Context, handle, password string) (string, string, error)
  Refresh(ctx context.Context, refreshToken string) (string, string, error)
  Logout(ctx context.Context) error

  SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)

  GetAccessTTL() time.Duration
}

type authService struct {
  log               *logger.Logger
  userRepo          repos.UserRepo
  userTokenRepo     repos.UserTokenRepo
  jwtSecretKey      string
  accessTTL         time.Duration
  refreshTTL        time.Duration
}

func NewAuthService(
  log               *logger.Logger,
  userRepo          repos.UserRepo,
  userTokenRepo     repos.UserTokenRepo,
  jwtSecretKey      string,
  accessTTL         time.Duration,
  refreshTTL        time.Duration,
) AuthService {
  serviceLog := log.With("service", "AuthService")
  return &authService{
    log:           serviceLog,
    userRepo:      userRepo,
    userTokenRepo: userTokenRepo,
    jwtSecretKey:  jwtSecretKey,
    accessTTL:     accessTTL,
    refreshTTL:    refreshTTL,
  }
}

func (as *authService) Register(ctx context.Context, handle, password string) (*types.User, error) {
  handle = strings.TrimSpace(handle)
  if handle == "" {
    return nil, apperrors.New(apperrors.KindBadRequest, "a handle is required to register")
  }
  if password == "" {
    return nil, apperrors.New(apperrors.KindBadRequest, "a password is required to register")
  }

  exists, err := as.userRepo.HandleExists(ctx, nil, handle)
  if err != nil {
    as.log.Warn("Failed to check handle existence, Cannot proceed. Returning error.", "error", err)
    return nil, apperrors.Wrap(apperrors.KindInternal, "failed to check handle existence", err)
  }
  if exists {
    return nil, apperrors.New(apperrors.KindConflict, "handle is already taken")
  }

  hashed, err := utils.HashPassword(password)
  if err != nil {
    as.log.Warn("Failed to hash password, Cannot proceed. Returning error.", "error", err)
    return nil, apperrors.Wrap(apperrors.KindInternal, "failed to hash password", err)
  }
  user := &types.User{
    ID:       uuid.New(),
    Handle:   handle,
    Password: hashed,
  }
  created, err := as.userRepo.Create(ctx, nil, user)
  if err != nil {
    // Two concurrent registrations can both pass the existence check;
    // the unique index on handle decides the loser.
    as.log.Warn("Failed to create user, Cannot proceed. Returning error.", "error", err)
    return nil, apperrors.Wrap(apperrors.KindConflict, "handle is already taken", err)
  }
  as.log.Info("Registered new user", "userID", created.ID, "handle", created.Handle)
  return created, nil
}

func (as *authService) Login(ctx context.Context, handle, password string) (string, string, error) {
  handle = strings.TrimSpace(handle)
  if handle == "" || password == "" {
    return "", "", apperrors.New(apperrors.KindUnauthorized, "invalid handle or password")
  }

  user, err := as.userRepo.GetByHandle(ctx, nil, handle)
  if err != nil {
    as.log.Warn("Failure to retrieve user by handle, Cannot proceed. Returning error.", "error", err)
    return "", "", apperrors.Wrap(apperrors.KindInternal, "error retrieving user by handle", err)
  }
  hash := dummyHash
  if user != nil {
    hash = user.Password
  }
  if hErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); hErr != nil || user == nil {
    return "", "", apperrors.New(apperrors.KindUnauthorized, "invalid handle or password")
  }

  if dErr := as.userTokenRepo.DeleteExpiredForUser(ctx, nil, user.ID); dErr != nil {
    as.log.Warn("Failed to delete expired user tokens, continuing login anyway.", "error", dErr)
  }
  accessToken, genErr := as.generateAccessToken(user)
  if genErr != nil {
    as.log.Warn("Generate Access Token Error, Cannot proceed. Returning error.", "error", genErr)
    return "", "", apperrors.Wrap(apperrors.KindInternal, "failed to generate access token", genErr)
  }
  refreshToken := uuid.New().String()
  userToken := types.UserToken{
    ID:           uuid.New(),
    UserID:       user.ID,
    AccessToken:  accessToken,
    RefreshToken: refreshToken,
    ExpiresAt:    time.Now().Add(as.refreshTTL),
  }
  if _, cErr := as.userTokenRepo.Create(ctx, nil, &userToken); cErr != nil {
    as.log.Warn("Create User Token Error, Cannot proceed. Returning error.", "error", cErr)
    return "", "", apperrors.Wrap(apperrors.KindInternal, "failed to create user token", cErr)
  }
  return accessToken, refreshToken, nil
}

func (as *authService) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
  if refreshToken == "" {
    return "", "", apperrors.New(apperrors.KindUnauthorized, "missing refresh token")
  }
  existing, err := as.userTokenRepo.GetByRefreshToken(ctx, nil, refreshToken)
  if err != nil {
    as.log.Warn("Error fetching refresh token, Cannot proceed. Returning error.", "error", err)
    return "", "", apperrors.Wrap(apperrors.KindInternal, "error fetching refresh token", err)
  }
  if existing == nil {
    return "", "", apperrors.New(apperrors.KindUnauthorized, "unknown refresh token")
  }
  if existing.ExpiresAt.Before(time.Now()) {
    if dErr := as.userTokenRepo.FullDelete(ctx, nil, existing); dErr != nil {
      as.log.Warn("Failed to delete expired refresh token.", "error", dErr)
    }
    return "", "", apperrors.New(apperrors.KindUnauthorized, "refresh token expired")
  }
  user, uErr := as.userRepo.GetByID(ctx, nil, existing.UserID)
  if uErr != nil {
    as.log.Warn("Failed to load user for refresh, Cannot proceed. Returning error.", "error", uErr)
    return "", "", apperrors.Wrap(apperrors.KindInternal, "failed to load user for refresh", uErr)
  }
  accessToken, genErr := as.generateAccessToken(user)
  if genErr != nil {
    as.log.Warn("Failed to generate new access token, Cannot proceed. Returning error.", "error", genErr)
    return "", "", apperrors.Wrap(apperrors.KindInternal, "failed to generate access token", genErr)
  }
  newRefreshToken := uuid.New().String()
  newUserToken := types.UserToken{
    ID:           uuid.New(),
    UserID:       user.ID,
    AccessToken:  accessToken,
    RefreshToken: newRefreshToken,
    ExpiresAt:    time.Now().Add(as.refreshTTL),
  }
  if _, cErr := as.userTokenRepo.Create(ctx, nil, &newUserToken); cErr != nil {
    as.log.Warn("Failed to create new user token, Cannot proceed. Returning error.", "error", cErr)
    return "", "", apperrors.Wrap(apperrors.KindInternal, "failed to create user token", cErr)
  }
  if dErr := as.userTokenRepo.FullDelete(ctx, nil, existing); dErr != nil {
    as.log.Warn("Failed to remove old refresh token.", "error", dErr)
  }
  return accessToken, newRefreshToken, nil
}

func (as *authService) Logout(ctx context.Context) error {
  rd := requestdata.GetRequestData(ctx)
  if rd == nil || rd.TokenString == "" {
    return apperrors.New(apperrors.KindUnauthorized, "no authenticated session in context")
  }
  token, err := as.userTokenRepo.GetByAccessToken(ctx, nil, rd.TokenString)
  if err != nil {
    as.log.Warn("Error finding user token from token string, Cannot proceed. Returning error.", "error", err)
    return apperrors.Wrap(apperrors.KindInternal, "error finding user token", err)
  }
  if token == nil {
    return nil
  }
  if dErr := as.userTokenRepo.FullDelete(ctx, nil, token); dErr != nil {
    as.log.Warn("Error deleting user token, Cannot proceed. Returning error.", "error", dErr)
    return apperrors.Wrap(apperrors.KindInternal, "error deleting user token", dErr)
  }
  return nil
}

func (as *authService) generateAccessToken(user *types.User) (string, error) {
  claims := JWTClaims{
    RegisteredClaims: jwt.RegisteredClaims{
      Subject:   user.ID.String(),
      ExpiresAt: jwt.NewNumericDate(time.Now().Add(as.accessTTL)),
      IssuedAt:  jwt.NewNumericDate(time.Now()),
    },
  }
  token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
  return token.SignedString([]byte(as.jwtSecretKey))
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
  if tokenString == "" {
    return ctx, apperrors.New(apperrors.KindUnauthorized, "missing token")
  }
  parsedToken, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
    return []byte(as.jwtSecretKey), nil
  })
  if err != nil {
    return ctx, apperrors.Wrap(apperrors.KindUnauthorized, "failed to parse token", err)
  }
  claims, ok := parsedToken.Claims.(*JWTClaims)
  if !ok || !parsedToken.Valid {
    return ctx, apperrors.New(apperrors.KindUnauthorized, "invalid or expired token")
  }
  userID, err := uuid.Parse(claims.Subject)
  if err != nil {
    return ctx, apperrors.Wrap(apperrors.KindUnauthorized, "invalid user id in token", err)
  }
  // A valid signature is not enough: logout deletes the token row, which
  // must invalidate the session before the JWT itself expires.
  foundToken, fErr := as.userTokenRepo.GetByAccessToken(ctx, nil, tokenString)
  if fErr != nil {
    as.log.Warn("Error fetching user token by access token, Cannot proceed. Returning error.", "error", fErr)
    return ctx, apperrors.Wrap(apperrors.KindInternal, "failed to fetch user token", fErr)
  }
  if foundToken == nil {
    return ctx, apperrors.New(apperrors.KindUnauthorized, "session not found")
  }
  rd := &requestdata.RequestData{
    TokenString:  tokenString,
    RefreshToken: foundToken.RefreshToken,
    UserID:       userID,
  }
  return requestdata.WithRequestData(ctx, rd), nil
}

func (as *authService) GetAccessTTL() time.Duration {
  return as.accessTTL
}
