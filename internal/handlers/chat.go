package handlers

import (
  "net/http"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"

  "github.com/converse-labs/converse-backend/internal/apperrors"
  "github.com/converse-labs/converse-backend/internal/services"
  "github.com/converse-labs/converse-backend/internal/types"
)

type ChatHandler struct {
  chatService     services.ChatService
}

func NewChatHandler(chatService services.ChatService) *ChatHandler {
  return &ChatHandler{chatService: chatService}
}

func (ch *ChatHandler) CreateConversation(c *gin.Context) {
  var req struct {
    Title           string          `json:"title"`
  }
  // An empty body is fine; the title is optional.
  _ = c.ShouldBindJSON(&req)
  conversation, err := ch.chatService.CreateConversation(c.Request.Context(), req.Title)
  if err != nil {
    respondError(c, err)
    return
  }
  c.JSON(http.StatusCreated, gin.H{"conversationId": conversation.ID})
}

func (ch *ChatHandler) ListConversations(c *gin.Context) {
  conversations, err := ch.chatService.ListConversations(c.Request.Context())
  if err != nil {
    respondError(c, err)
    return
  }
  out := make([]gin.H, 0, len(conversations))
  for _, conversation := range conversations {
    out = append(out, gin.H{
      "conversationId": conversation.ID,
      "title":          conversation.Title,
      "createdAt":      conversation.CreatedAt,
    })
  }
  c.JSON(http.StatusOK, out)
}

func (ch *ChatHandler) GetMessages(c *gin.Context) {
  conversationID, err := uuid.Parse(c.Param("id"))
  if err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
    return
  }
  messages, err := ch.chatService.GetMessages(c.Request.Context(), conversationID)
  if err != nil {
    respondError(c, err)
    return
  }
  out := make([]gin.H, 0, len(messages))
  for i := range messages {
    out = append(out, messageJSON(&messages[i]))
  }
  c.JSON(http.StatusOK, out)
}

func (ch *ChatHandler) SendMessage(c *gin.Context) {
  conversationID, err := uuid.Parse(c.Param("id"))
  if err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
    return
  }
  var req struct {
    Content         string          `json:"content"`
  }
  if err := c.ShouldBindJSON(&req); err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
    return
  }
  userMsg, assistantMsg, err := ch.chatService.SendMessage(c.Request.Context(), conversationID, req.Content)
  if err != nil {
    kind := apperrors.KindOf(err)
    if kind.IsGateway() {
      // The turn reached a terminal Failed state: both messages are
      // durable and the client gets the gateway kind, never a
      // fabricated reply.
      body := gin.H{"error": err.Error(), "kind": kind.String()}
      if userMsg != nil {
        body["userMessage"] = messageJSON(userMsg)
      }
      if assistantMsg != nil {
        body["assistantMessage"] = messageJSON(assistantMsg)
      }
      c.JSON(kind.HTTPStatus(), body)
      return
    }
    respondError(c, err)
    return
  }
  c.JSON(http.StatusOK, gin.H{
    "userMessage":      messageJSON(userMsg),
    "assistantMessage": messageJSON(assistantMsg),
  })
}

func messageJSON(msg *types.Message) gin.H {
  return gin.H{
    "seq":       msg.Seq,
    "role":      msg.Role,
    "content":   msg.Content,
    "status":    msg.Status,
    "createdAt": msg.CreatedAt,
  }
}
