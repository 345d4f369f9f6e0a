package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nao1215/resumegate/pkg/httpclient"
	"github.com/nao1215/resumegate/pkg/token"
)

// RefreshPath は認証サービスのトークンリフレッシュAPIのパス。
const RefreshPath = "/api/v1/auth/refresh-token"

// defaultRefreshTimeout はタイムアウト未指定時のリフレッシュ呼び出しの上限。
const defaultRefreshTimeout = 5 * time.Second

// ErrExchange はトークンのリフレッシュに失敗したことを表す。
// 通信エラー、2xx以外の応答、応答ボディの不備はすべてこのエラーにまとめる。
var ErrExchange = errors.New("トークンのリフレッシュに失敗")

// ErrRejected は認証サービスがリフレッシュトークンを4xxで拒否したことを表す。
// ErrExchange と同時に返し、タイムアウトや5xxのような一時的な失敗とは区別する。
var ErrRejected = errors.New("リフレッシュトークンが拒否されました")

// Exchanger はリフレッシュトークンを新しいトークンペアと交換する。
type Exchanger interface {
	Exchange(ctx context.Context, refreshToken, origin string, cookies []*http.Cookie) (token.Pair, error)
}

// refreshRequest はリフレッシュAPIのリクエストボディ。
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refreshResponse はリフレッシュAPIの成功時のレスポンスボディ。
type refreshResponse struct {
	Data *token.Pair `json:"data"`
}

// HTTPExchanger は認証サービスのHTTP APIを呼び出すExchangerの実装。
type HTTPExchanger struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewHTTPExchanger は新しいHTTPExchangerを生成する。
// timeoutが0以下の場合は5秒を使う。hcがnilの場合は既定のクライアントを使う。
func NewHTTPExchanger(timeout time.Duration, hc *http.Client) *HTTPExchanger {
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}
	if hc == nil {
		hc = &http.Client{
			// リダイレクト先にリフレッシュトークンを送らない
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &HTTPExchanger{httpClient: hc, timeout: timeout}
}

// Exchange はoriginのリフレッシュAPIを1回だけ呼び出す。
// 呼び出し元のコンテキストがキャンセルされた場合やタイムアウトした場合も ErrExchange を返す。
func (e *HTTPExchanger) Exchange(ctx context.Context, refreshToken, origin string, cookies []*http.Cookie) (token.Pair, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx = httpclient.WithCookies(ctx, cookies)

	client := httpclient.New(origin, httpclient.WithHTTPClient(e.httpClient))

	var resp refreshResponse
	if err := client.PostJSON(ctx, RefreshPath, refreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 {
			return token.Pair{}, fmt.Errorf("%w: %w: %w", ErrExchange, ErrRejected, err)
		}
		return token.Pair{}, fmt.Errorf("%w: %w", ErrExchange, err)
	}
	if resp.Data == nil || resp.Data.AccessToken == "" || resp.Data.RefreshToken == "" {
		return token.Pair{}, fmt.Errorf("%w: レスポンスにトークンが含まれていません", ErrExchange)
	}
	return *resp.Data, nil
}
