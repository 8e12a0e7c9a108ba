package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/livequiz-api/internal/service"
	"github.com/yourusername/livequiz-api/pkg/auth"
)

// AuthMiddleware обеспечивает аутентификацию для защищенных маршрутов
type AuthMiddleware struct {
	tokenService *auth.TokenService
	roster       *service.AdminRoster
}

// NewAuthMiddleware создает новый middleware аутентификации
func NewAuthMiddleware(tokenService *auth.TokenService, roster *service.AdminRoster) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
		roster:       roster,
	}
}

// RequireAuth проверяет, аутентифицирован ли пользователь.
// Токен принимается из заголовка Authorization (Bearer) либо из query
// параметра token: браузерный WebSocket не умеет выставлять заголовки.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		var token string

		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			// Проверяем формат заголовка Bearer {token}
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}", "error_type": "token_format"})
				c.Abort()
				return
			}
			token = parts[1]
		} else {
			token = c.Query("token")
		}

		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization token is required", "error_type": "token_missing"})
			c.Abort()
			return
		}

		claims, err := m.tokenService.Parse(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token", "error_type": "token_invalid"})
			c.Abort()
			return
		}

		// Устанавливаем идентичность пользователя в контекст
		c.Set("user_id", claims.UserID)
		c.Set("email", claims.Email)
		c.Set("display_name", claims.DisplayName)

		c.Next()
	}
}

// AdminOnly пропускает только администраторов платформы.
// Должен применяться ПОСЛЕ RequireAuth.
func (m *AuthMiddleware) AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		email, exists := c.Get("email")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		if m.roster == nil || !m.roster.IsAdmin(email.(string)) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin rights required"})
			c.Abort()
			return
		}

		c.Next()
	}
}
