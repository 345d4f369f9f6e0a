package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// refreshBody はテストで送受信するリフレッシュAPI風のボディ。
type refreshBody struct {
	RefreshToken string `json:"refreshToken"`
}

// captured はテストサーバーが受け取ったリクエスト。
type captured struct {
	method  string
	path    string
	body    []byte
	headers http.Header
	cookies map[string]string
}

// newCaptureServer は受け取ったリクエストを記録し、statusとrespを返すテストサーバーを起動する。
func newCaptureServer(t *testing.T, status int, resp string) (*httptest.Server, *captured) {
	t.Helper()

	got := &captured{cookies: map[string]string{}}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.headers = r.Header.Clone()
		got.body, _ = io.ReadAll(r.Body)
		for _, c := range r.Cookies() {
			got.cookies[c.Name] = c.Value
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(ts.Close)
	return ts, got
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("既定のタイムアウトが設定されること", func(t *testing.T) {
		t.Parallel()

		c := New("http://localhost:3000")
		if c.httpClient.Timeout != defaultTimeout {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, defaultTimeout)
		}
		if c.baseURL != "http://localhost:3000" {
			t.Errorf("baseURL = %q", c.baseURL)
		}
	})

	t.Run("0以下のタイムアウトは無視されること", func(t *testing.T) {
		t.Parallel()

		c := New("http://localhost:3000", WithTimeout(-time.Second))
		if c.httpClient.Timeout != defaultTimeout {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, defaultTimeout)
		}
	})

	t.Run("差し替えたHTTPクライアントを使うこと", func(t *testing.T) {
		t.Parallel()

		hc := &http.Client{}
		if c := New("http://localhost:3000", WithHTTPClient(hc)); c.httpClient != hc {
			t.Error("差し替えたHTTPクライアントが使われていない")
		}
		if c := New("http://localhost:3000", WithHTTPClient(nil)); c.httpClient == nil {
			t.Error("nilで既定のクライアントが失われた")
		}
	})
}

func TestPostJSON(t *testing.T) {
	t.Parallel()

	t.Run("JSONボディを送りレスポンスをデコードできること", func(t *testing.T) {
		t.Parallel()

		ts, got := newCaptureServer(t, http.StatusOK, `{"refreshToken":"new-token"}`)

		var out refreshBody
		err := New(ts.URL).PostJSON(context.Background(), "/api/v1/auth/refresh-token", refreshBody{RefreshToken: "old-token"}, &out)
		if err != nil {
			t.Fatalf("PostJSON()でエラー: %v", err)
		}
		if out.RefreshToken != "new-token" {
			t.Errorf("RefreshToken = %q, want %q", out.RefreshToken, "new-token")
		}
		if got.method != http.MethodPost || got.path != "/api/v1/auth/refresh-token" {
			t.Errorf("リクエスト = %s %s", got.method, got.path)
		}
		if ct := got.headers.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if a := got.headers.Get("Accept"); a != "application/json" {
			t.Errorf("Accept = %q", a)
		}
		var sent refreshBody
		if err := json.Unmarshal(got.body, &sent); err != nil {
			t.Fatalf("送信ボディのパースに失敗: %v", err)
		}
		if sent.RefreshToken != "old-token" {
			t.Errorf("送信したrefreshToken = %q", sent.RefreshToken)
		}
	})

	t.Run("resultがnilならボディを読まずに成功すること", func(t *testing.T) {
		t.Parallel()

		ts, _ := newCaptureServer(t, http.StatusNoContent, "")
		if err := New(ts.URL).PostJSON(context.Background(), "/logout", nil, nil); err != nil {
			t.Errorf("PostJSON()でエラー: %v", err)
		}
	})

	t.Run("2xx以外はボディを含まないStatusErrorになること", func(t *testing.T) {
		t.Parallel()

		for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError} {
			ts, _ := newCaptureServer(t, status, `{"error":"leaked-refresh-token"}`)

			err := New(ts.URL).PostJSON(context.Background(), "/", refreshBody{}, nil)
			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("status=%d: エラーの型 = %T, want *StatusError", status, err)
			}
			if statusErr.StatusCode != status {
				t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, status)
			}
			if strings.Contains(err.Error(), "leaked-refresh-token") {
				t.Errorf("エラーにレスポンスボディが含まれている: %v", err)
			}
		}
	})

	t.Run("不正なJSONレスポンスはエラーになること", func(t *testing.T) {
		t.Parallel()

		ts, _ := newCaptureServer(t, http.StatusOK, `{not json`)
		var out refreshBody
		if err := New(ts.URL).PostJSON(context.Background(), "/", refreshBody{}, &out); err == nil {
			t.Error("エラーが返されなかった")
		}
	})

	t.Run("シリアライズできないボディはエラーになること", func(t *testing.T) {
		t.Parallel()

		ts, _ := newCaptureServer(t, http.StatusOK, `{}`)
		if err := New(ts.URL).PostJSON(context.Background(), "/", make(chan int), nil); err == nil {
			t.Error("エラーが返されなかった")
		}
	})

	t.Run("キャンセル済みのコンテキストはエラーになること", func(t *testing.T) {
		t.Parallel()

		ts, _ := newCaptureServer(t, http.StatusOK, `{}`)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := New(ts.URL).PostJSON(ctx, "/", refreshBody{}, nil)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})

	t.Run("応答が遅いサーバーはタイムアウトすること", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		ts := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer ts.Close()
		defer close(release)

		start := time.Now()
		err := New(ts.URL, WithTimeout(50*time.Millisecond)).PostJSON(context.Background(), "/", refreshBody{}, nil)
		if err == nil {
			t.Fatal("エラーが返されなかった")
		}
		if elapsed := time.Since(start); elapsed > 5*time.Second {
			t.Errorf("タイムアウトまでの時間が長すぎる: %v", elapsed)
		}
	})

	t.Run("接続できない場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.NotFoundHandler())
		url := ts.URL
		ts.Close()

		if err := New(url).PostJSON(context.Background(), "/", refreshBody{}, nil); err == nil {
			t.Error("エラーが返されなかった")
		}
	})
}

func TestWithCookies(t *testing.T) {
	t.Parallel()

	t.Run("コンテキストのCookieがリクエストに付与されること", func(t *testing.T) {
		t.Parallel()

		ts, got := newCaptureServer(t, http.StatusOK, `{}`)
		ctx := WithCookies(context.Background(), []*http.Cookie{
			{Name: "refreshToken", Value: "r1"},
			{Name: "theme", Value: "dark"},
		})

		if err := New(ts.URL).PostJSON(ctx, "/", refreshBody{}, nil); err != nil {
			t.Fatalf("PostJSON()でエラー: %v", err)
		}
		if got.cookies["refreshToken"] != "r1" || got.cookies["theme"] != "dark" {
			t.Errorf("cookies = %v", got.cookies)
		}
	})

	t.Run("Cookieを設定しない場合はCookieヘッダーが空であること", func(t *testing.T) {
		t.Parallel()

		ts, got := newCaptureServer(t, http.StatusOK, `{}`)
		if err := New(ts.URL).PostJSON(context.Background(), "/", refreshBody{}, nil); err != nil {
			t.Fatalf("PostJSON()でエラー: %v", err)
		}
		if h := got.headers.Get("Cookie"); h != "" {
			t.Errorf("Cookie = %q, want empty", h)
		}
	})
}
