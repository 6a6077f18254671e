package server

import (
  "github.com/gin-gonic/gin"
  "github.com/gin-contrib/cors"

  "github.com/converse-labs/converse-backend/internal/handlers"
  "github.com/converse-labs/converse-backend/internal/middleware"
)

type RouterConfig struct {
  AuthHandler           *handlers.AuthHandler
  ChatHandler           *handlers.ChatHandler
  AuthMiddleware        *middleware.AuthMiddleware
}

func NewRouter(cfg RouterConfig) *gin.Engine {
  router := gin.Default()

  //-----------------------------------------
  // Cors Setup
  //-----------------------------------------
  router.Use(cors.New(cors.Config{
    AllowOrigins: []string{
      "http://localhost:3000",
      "http://127.0.0.1:8000",
    },
    AllowMethods:     []string{"GET", "POST", "OPTIONS"},
    AllowHeaders:     []string{"Authorization", "Content-Type", "Accept"},
    AllowCredentials: true,
  }))

  //-----------------------------------------
  // Health Routes
  //-----------------------------------------
  router.GET("/api/health", handlers.Healthz)

  //-----------------------------------------
  // Public Routes
  //-----------------------------------------
  auth := router.Group("/api/auth")
  {
    auth.POST("/register", cfg.AuthHandler.Register)
    auth.POST("/login", cfg.AuthHandler.Login)
    auth.POST("/refresh", cfg.AuthHandler.Refresh)
  }

  //------------------------------------------
  // Protected Routes
  //------------------------------------------
  protected := router.Group("/api")
  protected.Use(cfg.AuthMiddleware.RequireAuth())
  protected.POST("/auth/logout", cfg.AuthHandler.Logout)

  chat := protected.Group("/chat")
  chat.GET("/conversations", cfg.ChatHandler.ListConversations)
  chat.POST("/create", cfg.ChatHandler.CreateConversation)
  chat.GET("/conversations/:id", cfg.ChatHandler.GetMessages)
  chat.POST("/conversations/:id", cfg.ChatHandler.SendMessage)

  return router
}
