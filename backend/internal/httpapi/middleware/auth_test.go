package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

var testSecret = []byte("test-secret")

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(testSecret))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": c.GetUint64("userId"), "username": c.GetString("username")})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	r := newRouter()
	valid, _, err := SignAccessToken(testSecret, 7, "alice", time.Minute)
	if err != nil {
		t.Fatalf("SignAccessToken() error = %v", err)
	}
	expired, _, _ := SignAccessToken(testSecret, 7, "alice", -time.Minute)
	foreign, _, _ := SignAccessToken([]byte("other"), 7, "alice", time.Minute)

	cases := []struct {
		name   string
		url    string
		header string
		want   int
	}{
		{"header", "/whoami", "Bearer " + valid, http.StatusOK},
		{"lower-case scheme", "/whoami", "bearer " + valid, http.StatusOK},
		{"query", "/whoami?token=" + valid, "", http.StatusOK},
		{"missing", "/whoami", "", http.StatusUnauthorized},
		{"expired", "/whoami", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong secret", "/whoami", "Bearer " + foreign, http.StatusUnauthorized},
		{"not bearer", "/whoami", "Basic abc", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.url, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d (%s)", tc.name, w.Code, tc.want, w.Body.String())
		}
	}
}

func TestParseToken(t *testing.T) {
	token, _, _ := SignAccessToken(testSecret, 42, "bob", time.Minute)
	claims, err := ParseToken(testSecret, token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.UserID != 42 || claims.Username != "bob" || claims.Type != "access" {
		t.Fatalf("ParseToken() = %+v", claims)
	}
}

func TestExtractBearer(t *testing.T) {
	cases := map[string]string{
		"":              "",
		"Bearer":        "",
		"Bearer  abc  ": "abc",
		"BEARER xyz":    "xyz",
		"Token abc":     "",
	}
	for in, want := range cases {
		if got := extractBearer(in); got != want {
			t.Fatalf("extractBearer(%q) = %q, want %q", in, got, want)
		}
	}
}
