package main

import (
  "fmt"
  "os"
  "time"

  "github.com/converse-labs/converse-backend/internal/logger"
  "github.com/converse-labs/converse-backend/internal/utils"
  "github.com/converse-labs/converse-backend/internal/db"
  "github.com/converse-labs/converse-backend/internal/repos"
  "github.com/converse-labs/converse-backend/internal/services"
  "github.com/converse-labs/converse-backend/internal/turnlock"
  "github.com/converse-labs/converse-backend/internal/handlers"
  "github.com/converse-labs/converse-backend/internal/middleware"
  "github.com/converse-labs/converse-backend/internal/server"
)

func main() {
  // Logger Setup
  logMode := os.Getenv("LOG_MODE")
  if logMode == "" {
    logMode = "development"
  }
  log, err := logger.New(logMode)
  if err != nil {
    fmt.Printf("failed to init logger: %v\n", err)
    os.Exit(1)
  }
  defer log.Sync()

  // Environment Variables
  log.Info("Attempting to load environment variables for Main now...")
  jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
  accessTokenTTL := utils.GetEnvAsInt("ACCESS_TOKEN_TTL", 3600, log)
  refreshTokenTTL := utils.GetEnvAsInt("REFRESH_TOKEN_TTL", 86400, log)
  historyWindow := utils.GetEnvAsInt("CHAT_HISTORY_WINDOW", 50, log)
  turnLockMode := utils.GetEnv("TURN_LOCK", "local", log)
  redisAddress := utils.GetEnv("REDIS_ADDRESS", "localhost:6379", log)
  redisPassword := utils.GetEnv("REDIS_PASSWORD", "", log)
  log.Info("Environment variables loaded for Main :)")

  // Postgres Setup
  log.Info("Setting Up Postgres from Main now...")
  postgresService, err := db.NewPostgresService(log)
  if err != nil {
    log.Error("DB init failed", "error", err)
    os.Exit(1)
  }
  if err = postgresService.AutoMigrateAll(); err != nil {
    log.Warn("Postgres auto migration failed", "error", err)
  }
  thePG := postgresService.DB()
  log.Info("Postgres Setup From Main Successful :)")

  // Repositories Setup
  log.Info("Setting Up Repositories from Main now...")
  userRepo := repos.NewUserRepo(thePG, log)
  userTokenRepo := repos.NewUserTokenRepo(thePG, log)
  conversationRepo := repos.NewConversationRepo(thePG, log)
  messageRepo := repos.NewMessageRepo(thePG, log)
  log.Info("Repositories Set Up From Main Successful :)")

  // Turn Lock Setup
  log.Info("Setting Up Turn Lock from Main now...")
  var turnLock turnlock.Lock
  switch turnLockMode {
  case "redis":
    // Lease TTL must outlive the completion deadline plus both appends.
    leaseTTL := time.Duration(utils.GetEnvAsInt("TURN_LOCK_TTL", 120, log)) * time.Second
    redisLock, rErr := turnlock.NewRedisLock(log, redisAddress, redisPassword, leaseTTL)
    if rErr != nil {
      log.Error("Fatal error: Cannot init redis turn lock", "error", rErr)
      os.Exit(1)
    }
    defer redisLock.Close()
    turnLock = redisLock
  default:
    turnLock = turnlock.NewLocalLock(log)
  }
  log.Info("Turn Lock Set Up From Main Successful :)", "mode", turnLockMode)

  // Services Setup
  log.Info("Setting up Services from Main now...")
  completionService, err := services.NewCompletionService(log)
  if err != nil {
    log.Error("Fatal error: Cannot init CompletionService", "error", err)
    os.Exit(1)
  }
  authService := services.NewAuthService(log, userRepo, userTokenRepo, jwtSecretKey, time.Duration(accessTokenTTL)*time.Second, time.Duration(refreshTokenTTL)*time.Second)
  chatService := services.NewChatService(log, conversationRepo, messageRepo, completionService, turnLock, historyWindow)
  log.Info("Services Set Up From Main Successful :)")

  // Handler Setup
  log.Info("Setting Up Handlers from Main now...")
  authHandler := handlers.NewAuthHandler(authService)
  chatHandler := handlers.NewChatHandler(chatService)
  log.Info("Handlers Set Up From Main Successful :)")

  // MiddleWare Setup
  log.Info("Setting Up Middleware from Main now...")
  authMiddleware := middleware.NewAuthMiddleware(log, authService)
  log.Info("Middleware Set Up From Main Successful :)")

  // Router Setup
  log.Info("Setting Up Router from Main now...")
  router := server.NewRouter(server.RouterConfig{
    AuthHandler:    authHandler,
    ChatHandler:    chatHandler,
    AuthMiddleware: authMiddleware,
  })
  log.Info("Router Set Up From Main Successful :)")

  port := utils.GetEnv("PORT", "8080", log)
  fmt.Printf("Server listening on :%s\n", port)
  if err := router.Run(":" + port); err != nil {
    log.Error("Server failed", "error", err)
  }
}
