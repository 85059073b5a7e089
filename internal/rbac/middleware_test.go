package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"voice-lead-agent/internal/auth"
)

func serveAs(role, min string) int {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		if role != "" {
			c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), "ops", role))
		}
		c.Next()
	}, RequireRole(min), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name string
		role string
		min  string
		want int
	}{
		{"admin reads", RoleAdmin, RoleViewer, http.StatusOK},
		{"viewer reads", RoleViewer, RoleViewer, http.StatusOK},
		{"admin dials", RoleAdmin, RoleAdmin, http.StatusOK},
		{"viewer cannot dial", RoleViewer, RoleAdmin, http.StatusForbidden},
		{"unknown role", "owner", RoleViewer, http.StatusForbidden},
		{"no identity", "", RoleViewer, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := serveAs(tt.role, tt.min); got != tt.want {
				t.Fatalf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRequireRole_PanicsOnUnknownMinimum(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	RequireRole("superuser")
}
