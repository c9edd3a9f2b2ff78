package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/huangang/testsentry/internal/utils"
)

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", AuthRequired(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c), "username": GetUsername(c)})
	})
	r.GET("/admin", AuthRequired(), AdminRequired(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func getWithToken(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	utils.SetJWTSecret("test-secret")
	r := newAuthRouter()

	if w := getWithToken(r, "/me", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status %d, expected 401", w.Code)
	}
	if w := getWithToken(r, "/me", "not-a-token"); w.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status %d, expected 401", w.Code)
	}

	token, err := utils.GenerateToken(42, "alice", "user", 1)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	w := getWithToken(r, "/me", token)
	if w.Code != http.StatusOK {
		t.Fatalf("valid token: status %d, expected 200", w.Code)
	}
}

func TestAdminRequired(t *testing.T) {
	utils.SetJWTSecret("test-secret")
	r := newAuthRouter()

	userToken, err := utils.GenerateToken(42, "alice", "user", 1)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if w := getWithToken(r, "/admin", userToken); w.Code != http.StatusForbidden {
		t.Errorf("plain user: status %d, expected 403", w.Code)
	}

	adminToken, err := utils.GenerateToken(1, "root", "admin", 1)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if w := getWithToken(r, "/admin", adminToken); w.Code != http.StatusOK {
		t.Errorf("admin: status %d, expected 200", w.Code)
	}
}
