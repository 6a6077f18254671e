package handlers

import (
  "errors"
  "net/http"

  "github.com/gin-gonic/gin"

  "github.com/converse-labs/converse-backend/internal/apperrors"
)

func respondError(c *gin.Context, err error) {
  var ae *apperrors.Error
  if errors.As(err, &ae) {
    c.JSON(ae.Kind.HTTPStatus(), gin.H{"error": ae.Message, "kind": ae.Kind.String()})
    return
  }
  c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
