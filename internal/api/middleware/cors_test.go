package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/qs3c/gen_go_server/config"
)

func corsRouter(cfg config.CORSConfig) *gin.Engine {
	router := gin.New()
	router.Use(CORS(cfg))
	router.POST("/api/v1/generations", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})
	return router
}

func TestCORS(t *testing.T) {
	cfg := config.CORSConfig{
		AllowedOrigins: []string{"https://studio.example.com", "http://localhost:5173"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization", "Idempotency-Key"},
	}

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantOrigin string
	}{
		{"allowed origin", http.MethodPost, "https://studio.example.com", http.StatusOK, "https://studio.example.com"},
		{"second allowed origin", http.MethodPost, "http://localhost:5173", http.StatusOK, "http://localhost:5173"},
		{"foreign origin", http.MethodPost, "https://evil.example.org", http.StatusOK, ""},
		{"no origin", http.MethodPost, "", http.StatusOK, ""},
		{"preflight", http.MethodOptions, "https://studio.example.com", http.StatusNoContent, "https://studio.example.com"},
	}

	router := corsRouter(cfg)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/generations", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "GET, POST", w.Header().Get("Access-Control-Allow-Methods"))
			assert.Equal(t, "Authorization, Idempotency-Key", w.Header().Get("Access-Control-Allow-Headers"))
			if tt.wantOrigin != "" {
				assert.Equal(t, "Origin", w.Header().Get("Vary"))
			}
		})
	}
}

func TestCORS_EmptyConfig(t *testing.T) {
	router := corsRouter(config.CORSConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generations", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
}
