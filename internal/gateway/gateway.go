package gateway

import (
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/resumegate/internal/credential"
	"github.com/nao1215/resumegate/pkg/middleware"
	"github.com/nao1215/resumegate/pkg/route"
	"github.com/nao1215/resumegate/pkg/token"
)

const (
	// headerKeyUserID は上流へユーザーIDを伝播するHTTPヘッダーキー。
	headerKeyUserID = "X-User-ID"
	// headerKeyUserRole は上流へロールを伝播するHTTPヘッダーキー。
	headerKeyUserRole = "X-User-Role"

	// contextKeyPayload はGinコンテキストに検証済みペイロードを格納するキー。
	contextKeyPayload = "auth_payload"
	// contextKeyUserID はGinコンテキストにユーザーIDを格納するキー。
	contextKeyUserID = "user_id"
)

// Classifier はリクエストパスを分類する。
type Classifier interface {
	Classify(path string) route.Class
}

// Verifier はアクセストークンを検証する。
type Verifier interface {
	Verify(tokenString string) token.Result
}

// Reason は判定の理由。ログ出力とテストで使う。
type Reason string

const (
	// ReasonOpenRoute は公開ルートのため認証を行わなかったことを表す。
	ReasonOpenRoute Reason = "open-route"
	// ReasonVerified はアクセストークンの検証に成功したことを表す。
	ReasonVerified Reason = "verified"
	// ReasonRefreshed はリフレッシュ後のアクセストークンの検証に成功したことを表す。
	ReasonRefreshed Reason = "refreshed"
	// ReasonNoCredentials はリフレッシュトークンが無いことを表す。
	ReasonNoCredentials Reason = "no-credentials"
	// ReasonUntrustedHost はリフレッシュ先のホストが許可されていないことを表す。
	ReasonUntrustedHost Reason = "untrusted-host"
	// ReasonRefreshFailed はリフレッシュ呼び出しが失敗したことを表す。
	ReasonRefreshFailed Reason = "refresh-failed"
	// ReasonReissuedInvalid は再発行されたアクセストークンが検証に失敗したことを表す。
	ReasonReissuedInvalid Reason = "reissued-invalid"
)

// Decision は1リクエストに対するゲートウェイの判定結果。
type Decision struct {
	// Allow はリクエストを通過させるかどうか。falseの場合はログイン画面へリダイレクトする。
	Allow bool
	// Class はルートの分類。
	Class route.Class
	// Reason は判定の理由。
	Reason Reason
	// Payload は認証済みの場合の検証済みペイロード。
	Payload token.Payload
	// Authenticated はPayloadが有効かどうか。
	Authenticated bool
	// clear は拒否時に資格情報Cookieを削除するかどうか。
	// 一時的な障害で拒否した場合は、まだ使えるリフレッシュトークンを残す。
	clear bool
}

// Options はGatewayの依存関係と設定。
type Options struct {
	// Classifier はルート分類器。必須。
	Classifier Classifier
	// Verifier はアクセストークンの検証器。必須。
	Verifier Verifier
	// Exchanger はリフレッシュトークンの交換器。必須。
	Exchanger Exchanger
	// Store はリクエストごとの資格情報ストアを生成する。必須。
	Store credential.Factory
	// AccessTTL は再発行したアクセストークンCookieの有効期間。
	AccessTTL time.Duration
	// RefreshTTL は再発行したリフレッシュトークンCookieの有効期間。
	RefreshTTL time.Duration
	// LoginPath は未認証時のリダイレクト先。空の場合は "/login"。
	LoginPath string
	// AllowedHosts はリフレッシュ呼び出し先として許可するホスト。空の場合は制限しない。
	AllowedHosts []string
	// TrustForwardedHeaders はクライアントが送ったX-Forwarded-Protoを信用するかどうか。
	// TLSを終端する信頼済みのプロキシの後ろで動かす場合だけ有効にする。
	TrustForwardedHeaders bool
}

// Gateway はリクエストごとの認証判定を行う。
// リクエストをまたぐ可変状態を持たないため、複数のgoroutineから同時に利用できる。
type Gateway struct {
	classifier   Classifier
	verifier     Verifier
	exchanger    Exchanger
	store        credential.Factory
	accessTTL    time.Duration
	refreshTTL   time.Duration
	loginPath    string
	allowedHosts map[string]struct{}
	trustProxy   bool
}

// New は依存関係を検証してGatewayを生成する。
func New(opts Options) (*Gateway, error) {
	switch {
	case opts.Classifier == nil:
		return nil, errors.New("Classifierが指定されていません")
	case opts.Verifier == nil:
		return nil, errors.New("Verifierが指定されていません")
	case opts.Exchanger == nil:
		return nil, errors.New("Exchangerが指定されていません")
	case opts.Store == nil:
		return nil, errors.New("Storeが指定されていません")
	case opts.AccessTTL <= 0 || opts.RefreshTTL <= 0:
		return nil, errors.New("トークンの有効期間は正の値である必要があります")
	}

	loginPath := opts.LoginPath
	if loginPath == "" {
		loginPath = "/login"
	}

	var hosts map[string]struct{}
	if len(opts.AllowedHosts) > 0 {
		hosts = make(map[string]struct{}, len(opts.AllowedHosts))
		for _, h := range opts.AllowedHosts {
			hosts[h] = struct{}{}
		}
	}

	return &Gateway{
		classifier:   opts.Classifier,
		verifier:     opts.Verifier,
		exchanger:    opts.Exchanger,
		store:        opts.Store,
		accessTTL:    opts.AccessTTL,
		refreshTTL:   opts.RefreshTTL,
		loginPath:    loginPath,
		allowedHosts: hosts,
		trustProxy:   opts.TrustForwardedHeaders,
	}, nil
}

// Decide はリクエストを判定する。
// 検証は必ずリフレッシュより先に行い、リフレッシュは1リクエストにつき最大1回だけ行う。
// 再発行に成功した場合はこの中でCookieを書き込む。
func (g *Gateway) Decide(c *gin.Context) Decision {
	class := g.classifier.Classify(c.Request.URL.Path)
	if class.Open() {
		return Decision{Allow: true, Class: class, Reason: ReasonOpenRoute}
	}

	store := g.store(c)
	access, hasAccess := store.Access()
	if hasAccess {
		if res := g.verifier.Verify(access); res.OK() {
			return Decision{Allow: true, Class: class, Reason: ReasonVerified, Payload: res.Payload, Authenticated: true}
		}
	}

	refresh, hasRefresh := store.Refresh()
	deny := func(reason Reason, clearCookies bool) Decision {
		return Decision{Class: class, Reason: reason, clear: clearCookies}
	}
	if !hasRefresh {
		return deny(ReasonNoCredentials, hasAccess)
	}
	if !g.trustedHost(c.Request.Host) {
		return deny(ReasonUntrustedHost, false)
	}

	pair, err := g.exchanger.Exchange(c.Request.Context(), refresh, g.requestOrigin(c.Request), c.Request.Cookies())
	if err != nil {
		log.Printf("[Gateway] トークンのリフレッシュに失敗: request_id=%s path=%s error=%v", middleware.GetRequestID(c), c.Request.URL.Path, err)
		return deny(ReasonRefreshFailed, errors.Is(err, ErrRejected))
	}

	store.SetAccess(pair.AccessToken, g.accessTTL)
	store.SetRefresh(pair.RefreshToken, g.refreshTTL)

	res := g.verifier.Verify(pair.AccessToken)
	if !res.OK() {
		log.Printf("[Gateway] 再発行されたアクセストークンが無効: request_id=%s path=%s reason=%s", middleware.GetRequestID(c), c.Request.URL.Path, res.Failure)
		return deny(ReasonReissuedInvalid, true)
	}
	return Decision{Allow: true, Class: class, Reason: ReasonRefreshed, Payload: res.Payload, Authenticated: true}
}

// Handler はすべてのリクエストの前段で動くGinミドルウェアを返す。
// 認証できなかった場合はボディなしの307でログイン画面へリダイレクトする。
func (g *Gateway) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// クライアントが送った識別ヘッダーは信用しない
		c.Request.Header.Del(headerKeyUserID)
		c.Request.Header.Del(headerKeyUserRole)

		// 分類と上流への転送で同じパスを使う
		if p := route.CleanPath(c.Request.URL.Path); p != c.Request.URL.Path {
			c.Request.URL.Path = p
			c.Request.URL.RawPath = ""
		}

		d := g.Decide(c)
		if !d.Allow {
			if d.clear {
				g.store(c).Clear()
			}
			c.Header("Location", g.loginPath)
			c.AbortWithStatus(http.StatusTemporaryRedirect)
			return
		}

		if d.Authenticated {
			c.Set(contextKeyPayload, d.Payload)
			c.Set(contextKeyUserID, d.Payload.Subject)
			c.Request.Header.Set(headerKeyUserID, d.Payload.Subject)
			if d.Payload.Role != "" {
				c.Request.Header.Set(headerKeyUserRole, d.Payload.Role)
			}
		}
		c.Next()
	}
}

// trustedHost はリフレッシュ呼び出し先として許可されたホストかを返す。
func (g *Gateway) trustedHost(host string) bool {
	if g.allowedHosts == nil {
		return true
	}
	if _, ok := g.allowedHosts[host]; ok {
		return true
	}
	// ポート付きのHostヘッダーはホスト名でも照合する
	if h, _, err := net.SplitHostPort(host); err == nil {
		_, ok := g.allowedHosts[h]
		return ok
	}
	return false
}

// requestOrigin はリクエスト自身のオリジンを返す。
// X-Forwarded-Proto は信頼済みプロキシの設定が有効な場合だけ使う。
func (g *Gateway) requestOrigin(r *http.Request) string {
	return requestScheme(r, g.trustProxy) + "://" + r.Host
}

// requestScheme はリクエストのスキームを返す。
func requestScheme(r *http.Request, trustProxy bool) string {
	if trustProxy {
		switch r.Header.Get("X-Forwarded-Proto") {
		case "https":
			return "https"
		case "http":
			return "http"
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// PayloadFrom はGinコンテキストから検証済みペイロードを取得する。
// Gatewayが認証済みと判定したリクエストでのみtrueを返す。
func PayloadFrom(c *gin.Context) (token.Payload, bool) {
	v, ok := c.Get(contextKeyPayload)
	if !ok {
		return token.Payload{}, false
	}
	p, ok := v.(token.Payload)
	return p, ok
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
func GetUserID(c *gin.Context) string {
	return c.GetString(contextKeyUserID)
}
