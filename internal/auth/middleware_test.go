package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const secret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.RegisteredClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newRouter(audience string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWTMiddleware(secret, audience), func(c *gin.Context) {
		id, ok := GetDeviceID(c.Request.Context())
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id)
	})
	return r
}

func do(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestJWTMiddlewareAcceptsValidToken(t *testing.T) {
	token := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.RegisteredClaims{
		Subject:   "kiosk-7",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	resp := do(newRouter(""), "Bearer "+token)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp.Body.String() != "kiosk-7" {
		t.Fatalf("unexpected device id: %s", resp.Body.String())
	}
}

func TestJWTMiddlewareRejects(t *testing.T) {
	valid := jwt.RegisteredClaims{Subject: "kiosk-7", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	expired := jwt.RegisteredClaims{Subject: "kiosk-7", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}
	noSubject := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}

	cases := []struct {
		name     string
		audience string
		header   string
	}{
		{"missing header", "", ""},
		{"wrong scheme", "", "Basic abc"},
		{"empty token", "", "Bearer  "},
		{"bad signature", "", "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("other"), valid)},
		{"expired", "", "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(secret), expired)},
		{"no subject", "", "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(secret), noSubject)},
		{"wrong audience", "kiosks", "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(secret), valid)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if resp := do(newRouter(tc.audience), tc.header); resp.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.Code)
			}
		})
	}
}

func TestJWTMiddlewareAudience(t *testing.T) {
	token := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.RegisteredClaims{
		Subject:   "kiosk-7",
		Audience:  jwt.ClaimStrings{"kiosks"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if resp := do(newRouter("kiosks"), "Bearer "+token); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func signDevice(t *testing.T, method jwt.SigningMethod, claims DeviceClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestJWTMiddlewarePrefersDeviceClaim(t *testing.T) {
	token := signDevice(t, jwt.SigningMethodHS256, DeviceClaims{
		DeviceID: "kiosk-lobby",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "provisioner",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	resp := do(newRouter(""), "Bearer "+token)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp.Body.String() != "kiosk-lobby" {
		t.Fatalf("expected device claim to win, got %s", resp.Body.String())
	}
}

func TestJWTMiddlewareRejectsWeakTokens(t *testing.T) {
	cases := []struct {
		name    string
		token   string
		message string
	}{
		{
			name: "no expiry",
			token: signDevice(t, jwt.SigningMethodHS256, DeviceClaims{
				DeviceID: "kiosk-7",
			}),
			message: "token missing required claim",
		},
		{
			name: "other hmac algorithm",
			token: signDevice(t, jwt.SigningMethodHS512, DeviceClaims{
				DeviceID:         "kiosk-7",
				RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
			}),
			message: "invalid token",
		},
		{
			name: "expired beyond leeway",
			token: signDevice(t, jwt.SigningMethodHS256, DeviceClaims{
				DeviceID:         "kiosk-7",
				RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-2 * Leeway))},
			}),
			message: "token expired",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(newRouter(""), "Bearer "+tc.token)
			if resp.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.Code)
			}
			if !strings.Contains(resp.Body.String(), tc.message) {
				t.Fatalf("expected %q in body, got %s", tc.message, resp.Body.String())
			}
		})
	}
}

func TestJWTMiddlewareToleratesClockDrift(t *testing.T) {
	token := signDevice(t, jwt.SigningMethodHS256, DeviceClaims{
		DeviceID:         "kiosk-7",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-Leeway / 3))},
	})
	if resp := do(newRouter(""), "Bearer "+token); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 within leeway, got %d", resp.Code)
	}
}

func TestJWTMiddlewareWithoutSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWTMiddleware("  ", ""), func(c *gin.Context) { c.Status(http.StatusOK) })

	token := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.RegisteredClaims{
		Subject:   "kiosk-7",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if resp := do(r, "Bearer "+token); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}
