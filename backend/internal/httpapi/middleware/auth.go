package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"whiteboard/backend/internal/auth"
)

// AuthMiddleware 校验 Bearer token，成功后把 userId 放进 gin.Context
// 没带 token 返回 401，token 无效返回 403；auth 服务不可用返回 502
func AuthMiddleware(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := auth.ExtractBearer(c.Request.Header.Get("Authorization"))
		if tokenString == "" {
			// 兼容 WebSocket：浏览器无法自定义 Header，允许从 query ?token= 中获取
			tokenString = strings.TrimSpace(c.Query("token"))
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Unauthorized",
			})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 1200*time.Millisecond)
		defer cancel()

		claims, err := verifier.Verify(ctx, tokenString)
		if err != nil {
			if errors.Is(err, auth.ErrAuthUpstream) {
				log.Printf("auth upstream error: %v", err)
				c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
					"success": false,
					"message": "auth service unavailable",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": "Unauthorized",
			})
			return
		}

		c.Set("userId", claims.UserID)
		c.Next()
	}
}

// UserID 取出 AuthMiddleware 写入的 userId
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get("userId")
	if !ok {
		return "", false
	}
	userID, ok := v.(string)
	return userID, ok && userID != ""
}
