package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"fairytale-server/shared/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type mockVerifier struct{ mock.Mock }

func (m *mockVerifier) VerifyToken(ctx context.Context, token string) (*models.Claims, error) {
	args := m.Called(ctx, token)
	if c := args.Get(0); c != nil {
		return c.(*models.Claims), args.Error(1)
	}
	return nil, args.Error(1)
}

func newRouter(v TokenVerifier, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ZapLoggingMiddlewareForGin(zap.NewNop()))
	handlers := append([]gin.HandlerFunc{GinAuthMiddleware(v, zap.NewNop())}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		id, ok := GetUserID(c)
		ctxID, ctxOK := models.GetUserIDFromContext(c.Request.Context())
		if !ok || !ctxOK || id != ctxID {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id.String())
	})
	r.GET("/private", handlers...)
	return r
}

func TestGinAuthMiddleware(t *testing.T) {
	userID := uuid.New()
	v := new(mockVerifier)
	v.On("VerifyToken", mock.Anything, "good").Return(&models.Claims{UserID: userID, Roles: []string{models.RoleUser}}, nil)
	v.On("VerifyToken", mock.Anything, "old").Return(nil, models.ErrTokenExpired)
	v.On("VerifyToken", mock.Anything, "bad").Return(nil, models.ErrTokenInvalid)

	r := newRouter(v)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", http.StatusUnauthorized},
		{"expired", "Bearer old", http.StatusUnauthorized},
		{"invalid", "Bearer bad", http.StatusUnauthorized},
		{"valid", "Bearer good", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/private", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			assert.NotEmpty(t, w.Header().Get(requestIDHeader))
			if tt.status == http.StatusOK {
				assert.Equal(t, userID.String(), w.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	v := new(mockVerifier)
	v.On("VerifyToken", mock.Anything, "user").Return(&models.Claims{UserID: uuid.New(), Roles: []string{models.RoleUser}}, nil)
	v.On("VerifyToken", mock.Anything, "admin").Return(&models.Claims{UserID: uuid.New(), Roles: []string{models.RoleAdmin}}, nil)

	r := newRouter(v, RequireRole(models.RoleAdmin))

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer user")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer admin")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGinAuthMiddleware_QueryTokenOnlyForWebsocketUpgrade(t *testing.T) {
	userID := uuid.New()
	v := new(mockVerifier)
	v.On("VerifyToken", mock.Anything, "good").Return(&models.Claims{UserID: userID}, nil)
	r := newRouter(v)

	req := httptest.NewRequest(http.MethodGet, "/private?access_token=good", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/private?access_token=good", nil)
	req.Header.Set("Upgrade", "websocket")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID.String(), w.Body.String())
}
