package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-score-api/internal/middleware"
	"github.com/noah-isme/course-score-api/internal/models"
)

// requesterID returns the authenticated user ID, or an empty string when the
// request carries no claims.
func requesterID(c *gin.Context) string {
	value, ok := c.Get(middleware.ContextUserKey)
	if !ok {
		return ""
	}
	if claims, ok := value.(*models.JWTClaims); ok && claims != nil {
		return claims.UserID
	}
	return ""
}
