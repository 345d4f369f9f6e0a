package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRecovery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler gin.HandlerFunc
	}{
		{
			name:    "文字列のパニックで500が返ること",
			handler: func(*gin.Context) { panic("証明書の検証中にパニック") },
		},
		{
			name:    "error型のパニックで500が返ること",
			handler: func(*gin.Context) { panic(http.ErrAbortHandler) },
		},
		{
			name:    "数値のパニックで500が返ること",
			handler: func(*gin.Context) { panic(42) },
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router := gin.New()
			router.Use(RequestID(), Recovery())
			router.Any("/dashboard", tt.handler)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/dashboard", nil))

			if w.Code != http.StatusInternalServerError {
				t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("レスポンスのパースに失敗: %v", err)
			}
			if body["error"] != "内部サーバーエラーが発生しました" {
				t.Errorf("error = %q", body["error"])
			}
			if w.Header().Get(HeaderRequestID) == "" {
				t.Error("パニック時もX-Request-IDが返るべき")
			}
		})
	}

	t.Run("後続のミドルウェアのパニックも捕捉し次のリクエストを処理できること", func(t *testing.T) {
		t.Parallel()

		router := gin.New()
		router.Use(Recovery(), func(c *gin.Context) {
			if c.Query("boom") != "" {
				panic("認証ミドルウェアでパニック")
			}
			c.Next()
		})
		router.GET("/resumes", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/resumes?boom=1", nil))
		if w.Code != http.StatusInternalServerError {
			t.Errorf("1回目のステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
		}

		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/resumes", nil))
		if w.Code != http.StatusOK {
			t.Errorf("2回目のステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("書き込み開始後のパニックではステータスを変更しないこと", func(t *testing.T) {
		t.Parallel()

		router := gin.New()
		router.Use(Recovery())
		router.GET("/stream", func(c *gin.Context) {
			c.String(http.StatusAccepted, "partial")
			panic("書き込み後のパニック")
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stream", nil))

		if w.Code != http.StatusAccepted {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusAccepted)
		}
		if w.Body.String() != "partial" {
			t.Errorf("body = %q, want %q", w.Body.String(), "partial")
		}
	})
}
