package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestAdminCaller(t *testing.T) {
	r := gin.New()
	r.Use(Logger(), Metrics(), AdminCaller())
	r.GET("/admin", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(CallerKey))
	})

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing", "", http.StatusForbidden, "UNAUTHORIZED"},
		{"invalid", "admin", http.StatusForbidden, "UNAUTHORIZED"},
		{"checksummed", strings.ToLower("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"), http.StatusOK, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set(AdminHeader, tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
		})
	}
}
