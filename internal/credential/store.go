package credential

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// AccessCookieName はアクセストークンを保持するCookie名。
	AccessCookieName = "accessToken"
	// RefreshCookieName はリフレッシュトークンを保持するCookie名。
	RefreshCookieName = "refreshToken"
)

// Store はリクエスト単位で資格情報を読み書きする。
type Store interface {
	// Access はアクセストークンを返す。無ければfalseを返す。
	Access() (string, bool)
	// Refresh はリフレッシュトークンを返す。無ければfalseを返す。
	Refresh() (string, bool)
	// SetAccess はアクセストークンを有効期間付きで保存する。
	SetAccess(token string, ttl time.Duration)
	// SetRefresh はリフレッシュトークンを有効期間付きで保存する。
	SetRefresh(token string, ttl time.Duration)
	// Clear は両方のトークンを削除する。
	Clear()
}

// Factory はGinコンテキストからStoreを生成する。
type Factory func(c *gin.Context) Store

// Options はCookieの属性。
type Options struct {
	// Secure はCookieにSecure属性を付けるかどうか。
	Secure bool
	// Domain はCookieのDomain属性。空の場合はホストのみ。
	Domain string
	// SameSite はCookieのSameSite属性。0の場合はLax。
	SameSite http.SameSite
	// Now は有効期限の計算に使う現在時刻。nilの場合は time.Now。
	Now func() time.Time
}

// CookieStore はHTTP-only Cookieを使うStoreの実装。
type CookieStore struct {
	c    *gin.Context
	opts Options
}

// NewCookieStore はリクエストとレスポンスに紐づくCookieStoreを生成する。
func NewCookieStore(c *gin.Context, opts Options) *CookieStore {
	if opts.SameSite == 0 {
		opts.SameSite = http.SameSiteLaxMode
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &CookieStore{c: c, opts: opts}
}

// NewFactory はCookieStoreを生成するFactoryを返す。
func NewFactory(opts Options) Factory {
	return func(c *gin.Context) Store {
		return NewCookieStore(c, opts)
	}
}

// Access はアクセストークンを返す。
func (s *CookieStore) Access() (string, bool) {
	return s.get(AccessCookieName)
}

// Refresh はリフレッシュトークンを返す。
func (s *CookieStore) Refresh() (string, bool) {
	return s.get(RefreshCookieName)
}

// SetAccess はアクセストークンを保存する。
func (s *CookieStore) SetAccess(token string, ttl time.Duration) {
	s.set(AccessCookieName, token, ttl)
}

// SetRefresh はリフレッシュトークンを保存する。
func (s *CookieStore) SetRefresh(token string, ttl time.Duration) {
	s.set(RefreshCookieName, token, ttl)
}

// Clear は両方のトークンを失効させる。
func (s *CookieStore) Clear() {
	for _, name := range []string{AccessCookieName, RefreshCookieName} {
		http.SetCookie(s.c.Writer, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   s.opts.Domain,
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   s.opts.Secure,
			SameSite: s.opts.SameSite,
		})
		replaceRequestCookie(s.c.Request, name, "")
	}
}

// get はリクエストのCookieを読み取る。空の値は未設定として扱う。
func (s *CookieStore) get(name string) (string, bool) {
	v, err := s.c.Cookie(name)
	if err != nil || v == "" {
		return "", false
	}
	return v, true
}

// set はレスポンスにCookieを書き込み、以降の処理が新しい値を読めるようにリクエスト側も更新する。
func (s *CookieStore) set(name, value string, ttl time.Duration) {
	http.SetCookie(s.c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.opts.Domain,
		Expires:  s.opts.Now().Add(ttl),
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   s.opts.Secure,
		SameSite: s.opts.SameSite,
	})
	replaceRequestCookie(s.c.Request, name, value)
}

// replaceRequestCookie はリクエストのCookieヘッダーから指定名のCookieを置き換える。
// valueが空の場合は削除のみ行う。
func replaceRequestCookie(r *http.Request, name, value string) {
	cookies := r.Cookies()
	r.Header.Del("Cookie")
	for _, c := range cookies {
		if c.Name == name {
			continue
		}
		r.AddCookie(c)
	}
	if value != "" {
		r.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}
