// Package auth authenticates kiosk devices with HS256 bearer tokens.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const deviceIDKey contextKey = "authDeviceID"

// DeviceKey is the gin context key holding the authenticated device id.
const DeviceKey = string(deviceIDKey)

// Leeway tolerates clock drift between kiosks and the service.
const Leeway = 30 * time.Second

// DeviceClaims are the claims a kiosk token carries. DeviceID names the
// kiosk; tokens minted before the claim existed fall back to the subject.
type DeviceClaims struct {
	DeviceID string `json:"device_id,omitempty"`
	jwt.RegisteredClaims
}

// Device returns the kiosk identity the token asserts.
func (c *DeviceClaims) Device() string {
	if id := strings.TrimSpace(c.DeviceID); id != "" {
		return id
	}
	return strings.TrimSpace(c.Subject)
}

// WithDeviceID stores a device id on ctx.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDKey, deviceID)
}

// GetDeviceID retrieves the authenticated kiosk id from context.
func GetDeviceID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(deviceIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// JWTMiddleware admits requests carrying an unexpired HS256 kiosk token.
// When audience is set the token must list it.
func JWTMiddleware(secret, audience string) gin.HandlerFunc {
	key := []byte(strings.TrimSpace(secret))
	parser := newParser(strings.TrimSpace(audience))

	return func(c *gin.Context) {
		if len(key) == 0 {
			unauthorized(c, "missing JWT secret")
			return
		}
		tokenString, err := extractBearerToken(c.Request.Header.Get("Authorization"))
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		claims := &DeviceClaims{}
		if _, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		}); err != nil {
			unauthorized(c, rejection(err))
			return
		}

		deviceID := claims.Device()
		if deviceID == "" {
			unauthorized(c, "missing device identity")
			return
		}

		c.Request = c.Request.WithContext(WithDeviceID(c.Request.Context(), deviceID))
		c.Set(DeviceKey, deviceID)
		c.Next()
	}
}

func newParser(audience string) *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(Leeway),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return jwt.NewParser(opts...)
}

func rejection(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "token missing required claim"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "invalid audience"
	default:
		return "invalid token"
	}
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
