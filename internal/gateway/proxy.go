package gateway

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/resumegate/pkg/middleware"
	"github.com/nao1215/resumegate/pkg/route"
)

// hopByHopHeaders は転送してはいけない接続単位のヘッダー。
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Proxy は判定を通過したリクエストを上流のアプリケーションへ転送する。
type Proxy struct {
	upstream   *url.URL
	client     *http.Client
	trustProxy bool
}

// ProxyOption はProxyの設定を変更する。
type ProxyOption func(*Proxy)

// WithTrustedForwardedHeaders はクライアントが送ったX-Forwarded-*を引き継ぐ。
// 無効な場合はゲートウェイが見た値で上書きする。
func WithTrustedForwardedHeaders(trust bool) ProxyOption {
	return func(p *Proxy) {
		p.trustProxy = trust
	}
}

// NewProxy は上流URLへ転送するProxyを生成する。
// clientがnilの場合はリダイレクトを追わない既定のクライアントを使う。
func NewProxy(upstream string, client *http.Client, opts ...ProxyOption) (*Proxy, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("転送先URLの解析に失敗: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("転送先URLは絶対URLである必要があります: %q", upstream)
	}
	if client == nil {
		client = &http.Client{
			// リダイレクトはブラウザに任せる
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	p := &Proxy{upstream: u, client: client}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Handler はNoRouteに登録する転送ハンドラを返す。
func (p *Proxy) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		target := p.targetURL(c.Request.URL)

		req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target, c.Request.Body)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "プロキシリクエストの作成に失敗しました"})
			return
		}
		req.ContentLength = c.Request.ContentLength
		copyHeader(req.Header, c.Request.Header)
		removeHopByHop(req.Header)
		setForwardedHeaders(req, c.Request, p.trustProxy)

		resp, err := p.client.Do(req)
		if err != nil {
			if c.Request.Context().Err() != nil {
				// クライアントが切断した
				c.Abort()
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{"error": "内部サービスとの通信に失敗しました"})
			log.Printf("[Proxy] プロキシエラー: request_id=%s url=%s error=%v", middleware.GetRequestID(c), target, err)
			return
		}
		defer func() { _ = resp.Body.Close() }()

		removeHopByHop(resp.Header)
		dst := c.Writer.Header()
		for k, vv := range resp.Header {
			for _, v := range vv {
				// Set-Cookie はゲートウェイが書いたものと共存させる
				dst.Add(k, v)
			}
		}
		c.Status(resp.StatusCode)
		c.Writer.WriteHeaderNow()
		if _, err := io.Copy(c.Writer, resp.Body); err != nil {
			log.Printf("[Proxy] レスポンスの転送に失敗: request_id=%s url=%s error=%v", middleware.GetRequestID(c), target, err)
		}
	}
}

// targetURL は上流のベースパスに、ドットセグメントを解決したリクエストパスとクエリを連結する。
func (p *Proxy) targetURL(in *url.URL) string {
	u := *p.upstream
	u.Path = strings.TrimSuffix(p.upstream.Path, "/") + route.CleanPath(in.Path)
	u.RawPath = ""
	u.RawQuery = in.RawQuery
	return u.String()
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// removeHopByHop は hopByHopHeaders と Connection ヘッダーに列挙されたヘッダーを削除する。
func removeHopByHop(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// setForwardedHeaders は上流が元のホストとスキームを知れるようにX-Forwarded-*を付ける。
// trustProxyが無効な場合、クライアントが送った値は引き継がない。
func setForwardedHeaders(out, in *http.Request, trustProxy bool) {
	out.Header.Del("X-Forwarded-For")
	if ip, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := in.Header.Get("X-Forwarded-For"); trustProxy && prior != "" {
			ip = prior + ", " + ip
		}
		out.Header.Set("X-Forwarded-For", ip)
	}
	out.Header.Set("X-Forwarded-Host", in.Host)
	out.Header.Set("X-Forwarded-Proto", requestScheme(in, trustProxy))
}
