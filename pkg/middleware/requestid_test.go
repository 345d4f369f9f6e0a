package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TestRequestID はRequestIDミドルウェアを検証する。
func TestRequestID(t *testing.T) {
	t.Parallel()

	newRouter := func(seen *string, forwarded *string) *gin.Engine {
		router := gin.New()
		router.Use(RequestID())
		router.GET("/dashboard", func(c *gin.Context) {
			*seen = GetRequestID(c)
			*forwarded = c.Request.Header.Get(HeaderRequestID)
			c.Status(http.StatusOK)
		})
		return router
	}

	t.Run("ヘッダーが無い場合はUUIDを生成すること", func(t *testing.T) {
		t.Parallel()

		var seen, forwarded string
		w := httptest.NewRecorder()
		newRouter(&seen, &forwarded).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

		got := w.Header().Get(HeaderRequestID)
		if _, err := uuid.Parse(got); err != nil {
			t.Fatalf("X-Request-ID = %q はUUIDではない: %v", got, err)
		}
		if seen != got {
			t.Errorf("コンテキストのID = %q, want %q", seen, got)
		}
		if forwarded != got {
			t.Errorf("リクエストヘッダーのID = %q, want %q", forwarded, got)
		}
	})

	t.Run("クライアントのIDをそのまま使うこと", func(t *testing.T) {
		t.Parallel()

		var seen, forwarded string
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req.Header.Set(HeaderRequestID, "req-from-client")
		w := httptest.NewRecorder()
		newRouter(&seen, &forwarded).ServeHTTP(w, req)

		if got := w.Header().Get(HeaderRequestID); got != "req-from-client" {
			t.Errorf("X-Request-ID = %q, want %q", got, "req-from-client")
		}
		if seen != "req-from-client" {
			t.Errorf("コンテキストのID = %q, want %q", seen, "req-from-client")
		}
	})

	t.Run("長すぎるIDは置き換えること", func(t *testing.T) {
		t.Parallel()

		var seen, forwarded string
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req.Header.Set(HeaderRequestID, strings.Repeat("x", maxRequestIDLength+1))
		w := httptest.NewRecorder()
		newRouter(&seen, &forwarded).ServeHTTP(w, req)

		if len(seen) > maxRequestIDLength {
			t.Errorf("長すぎるIDがそのまま使われた: len=%d", len(seen))
		}
		if forwarded != seen {
			t.Errorf("リクエストヘッダーのID = %q, want %q", forwarded, seen)
		}
	})

	t.Run("ミドルウェア未適用ならGetRequestIDは空文字列を返すこと", func(t *testing.T) {
		t.Parallel()

		var got string
		router := gin.New()
		router.GET("/", func(c *gin.Context) {
			got = GetRequestID(c)
			c.Status(http.StatusOK)
		})
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		if got != "" {
			t.Errorf("GetRequestID() = %q, want empty string", got)
		}
	})
}
