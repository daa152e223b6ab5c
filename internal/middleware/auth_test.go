package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/docshield/docshield/internal/auth"
	"github.com/docshield/docshield/internal/db/models"
)

var testActor = models.Actor{ID: "user-1", Email: "editor@example.com"}

// newAuthRouter builds a router whose handler echoes what AuthMiddleware set.
func newAuthRouter() *gin.Engine {
	r := gin.New()
	r.Use(AuthMiddleware())
	r.GET("/", func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"user_id": c.GetString(UserIDKey),
			"scopes":  c.GetStringSlice(ScopesKey),
			"email":   claims.Email,
		})
	})
	return r
}

func serveWithAuth(r *gin.Engine, header string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	r.ServeHTTP(w, req)
	return w
}

func generateTestJWT(t *testing.T, scopes []string) string {
	t.Helper()
	token, err := auth.GenerateJWT(testActor, scopes, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	return token
}

func TestAuthMiddleware_RejectsBadHeaders(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"basic scheme", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer    "},
		{"garbage token", "Bearer not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serveWithAuth(newAuthRouter(), tt.header)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	token := generateTestJWT(t, []string{"audit:read"})
	w := serveWithAuth(newAuthRouter(), "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	for _, want := range []string{`"user_id":"user-1"`, `"scopes":["audit:read"]`, `"email":"editor@example.com"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body %s missing %s", body, want)
		}
	}
}

func TestAuthMiddleware_NilScopesBecomeEmpty(t *testing.T) {
	token := generateTestJWT(t, nil)
	w := serveWithAuth(newAuthRouter(), "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"scopes":[]`) {
		t.Errorf("body = %s, want empty scopes", w.Body.String())
	}
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	token := generateTestJWT(t, nil)
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		UserID: "user-1",
		Email:  "editor@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    auth.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	expired, err := forged.SignedString([]byte(auth.GetJWTSecret()))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	if w := serveWithAuth(newAuthRouter(), "Bearer "+expired); w.Code != http.StatusUnauthorized {
		t.Errorf("expired token: status = %d, want 401", w.Code)
	}
	if w := serveWithAuth(newAuthRouter(), "Bearer "+token+"x"); w.Code != http.StatusUnauthorized {
		t.Errorf("tampered token: status = %d, want 401", w.Code)
	}
}
