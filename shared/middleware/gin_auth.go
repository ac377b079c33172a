package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"fairytale-server/shared/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TokenVerifier проверяет bearer-токен и возвращает claims.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, tokenString string) (*models.Claims, error)
}

const (
	ginUserIDKey = "user_id"
	ginRolesKey  = "user_roles"
)

// GinAuthMiddleware проверяет заголовок Authorization: Bearer <jwt>
// и кладет UserID и роли в контекст gin и в context.Context запроса.
func GinAuthMiddleware(verifier TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("AuthMiddleware")
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			abortUnauthorized(c, models.ErrCodeUnauthorized, "Missing or malformed Authorization header")
			return
		}

		claims, err := verifier.VerifyToken(c.Request.Context(), tokenString)
		if err != nil {
			log.Debug("Access token verification failed", zap.Error(err))
			if errors.Is(err, models.ErrTokenExpired) {
				abortUnauthorized(c, models.ErrCodeTokenExpired, "Token has expired")
				return
			}
			abortUnauthorized(c, models.ErrCodeUnauthorized, "Token is invalid")
			return
		}

		c.Set(ginUserIDKey, claims.UserID)
		c.Set(ginRolesKey, claims.Roles)
		ctx := context.WithValue(c.Request.Context(), models.UserContextKey, claims.UserID)
		ctx = context.WithValue(ctx, models.RolesContextKey, claims.Roles)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// bearerToken берет токен из Authorization. Браузер не может выставить заголовок
// для websocket, поэтому для upgrade-запросов принимается ?access_token=.
func bearerToken(c *gin.Context) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		scheme, tokenString, found := strings.Cut(authHeader, " ")
		if !found || !strings.EqualFold(scheme, "bearer") || tokenString == "" {
			return "", false
		}
		return tokenString, true
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		if tokenString := c.Query("access_token"); tokenString != "" {
			return tokenString, true
		}
	}
	return "", false
}

// RequireRole пропускает только пользователей с указанной ролью. Ставится после GinAuthMiddleware.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !models.HasRole(GetRoles(c), role) {
			c.AbortWithStatusJSON(http.StatusForbidden, models.ErrorResponse{
				Code:    models.ErrCodeForbidden,
				Message: "Insufficient permissions",
			})
			return
		}
		c.Next()
	}
}

// GetUserID достает UserID, положенный GinAuthMiddleware.
func GetUserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ginUserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// GetRoles достает роли пользователя.
func GetRoles(c *gin.Context) []string {
	v, ok := c.Get(ginRolesKey)
	if !ok {
		return nil
	}
	roles, _ := v.([]string)
	return roles
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Code: code, Message: message})
}
