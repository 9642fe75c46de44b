package middleware

import (
	"facility_sync/internal/domain"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	AuthorizationHeaderKey  = "Authorization"
	AuthorizationTypeBearer = "Bearer"
	UserIDKey               = "userID"
	HandicapPermitKey       = "handicapPermit"
	EVCredentialKey         = "evCredential"
)

// AuthMiddleware là adapter cho auth collaborator: xác thực JWT do hệ thống
// login bên ngoài phát hành và lấy ra userID + các cờ eligibility từ claims.
// Core tin tưởng các giá trị này; login/session không nằm trong service này.
type AuthMiddleware struct {
	jwtSecret string
}

func NewAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: jwtSecret}
}

// Authenticate là middleware để xác thực JWT
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthorizationHeaderKey)
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Thiếu authorization header"})
			return
		}

		fields := strings.Fields(authHeader)
		if len(fields) < 2 || !strings.EqualFold(fields[0], AuthorizationTypeBearer) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Định dạng authorization header không hợp lệ"})
			return
		}

		claims, err := m.validateToken(fields[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token không hợp lệ hoặc đã hết hạn", "details": err.Error()})
			return
		}

		userID, okUserID := claims["sub"].(string)
		if !okUserID || userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Thông tin người dùng trong token không hợp lệ"})
			return
		}
		// Các cờ eligibility là tùy chọn; vắng mặt nghĩa là false.
		handicap, _ := claims["handicap"].(bool)
		ev, _ := claims["ev"].(bool)

		c.Set(UserIDKey, userID)
		c.Set(HandicapPermitKey, handicap)
		c.Set(EVCredentialKey, ev)

		c.Next()
	}
}

func (m *AuthMiddleware) validateToken(accessToken string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(accessToken, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("phương thức ký không mong đợi: %v", t.Header["alg"])
		}
		return []byte(m.jwtSecret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("token không hợp lệ")
	}
	return claims, nil
}

// UserFromContext dựng UserContext từ những gì Authenticate() đã lưu.
func UserFromContext(c *gin.Context) domain.UserContext {
	user := domain.UserContext{}
	if v, ok := c.Get(UserIDKey); ok {
		if id, ok := v.(string); ok {
			user.UserID = id
		}
	}
	if v, ok := c.Get(HandicapPermitKey); ok {
		if b, ok := v.(bool); ok {
			user.HasHandicapPermit = b
		}
	}
	if v, ok := c.Get(EVCredentialKey); ok {
		if b, ok := v.(bool); ok {
			user.HasEVCredential = b
		}
	}
	return user
}
