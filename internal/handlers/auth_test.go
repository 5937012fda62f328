package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/Imok282/glassmeet/internal/middleware"
)

const testSecret = "test-secret"

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/auth/login", Login(testSecret))

	protected := router.Group("/api", middleware.JWTAuth(testSecret))
	protected.GET("/whoami", func(c *gin.Context) {
		userID, _ := c.Get("user_id")
		c.JSON(http.StatusOK, gin.H{"user_id": userID})
	})
	return router
}

func doLogin(t *testing.T, router *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestLoginIssuesUsableToken(t *testing.T) {
	router := newAuthRouter()

	w := doLogin(t, router, `{"username":"dana","password":"pw"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp LoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal login response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login returned empty token")
	}
	if resp.UserID != "dana" {
		t.Errorf("user id = %q, want dana", resp.UserID)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req)

	if w2.Code != http.StatusOK {
		t.Fatalf("protected route status = %d, want 200: %s", w2.Code, w2.Body.String())
	}
	var whoami map[string]string
	if err := json.Unmarshal(w2.Body.Bytes(), &whoami); err != nil {
		t.Fatalf("unmarshal whoami: %v", err)
	}
	if whoami["user_id"] != "dana" {
		t.Errorf("claims user id = %q, want dana", whoami["user_id"])
	}
}

func TestLoginRejectsMalformedBody(t *testing.T) {
	router := newAuthRouter()

	w := doLogin(t, router, `{"username":"dana"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestProtectedRouteRejectsMissingOrBadAuth(t *testing.T) {
	router := newAuthRouter()

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"not bearer", "Basic abc123"},
		{"garbage token", "Bearer not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestProtectedRouteRejectsWrongSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	issuer := gin.New()
	issuer.POST("/api/auth/login", Login("other-secret"))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"username":"dana","password":"pw"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	issuer.ServeHTTP(w, req)

	var resp LoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal login response: %v", err)
	}

	router := newAuthRouter()
	req2 := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	req2.Header.Set("Authorization", "Bearer "+resp.Token)
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req2)

	if w2.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for a token signed with another secret", w2.Code)
	}
}

func TestGenerateRoomCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code := generateRoomCode()
		if len(code) != roomCodeLength {
			t.Fatalf("code %q has length %d, want %d", code, len(code), roomCodeLength)
		}
		for _, ch := range code {
			if !strings.ContainsRune(codeChars, ch) {
				t.Fatalf("code %q contains %q, outside the allowed alphabet", code, ch)
			}
		}
		seen[code] = true
	}
	if len(seen) < 2 {
		t.Error("room codes are not random")
	}
}
