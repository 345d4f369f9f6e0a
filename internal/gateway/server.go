package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/resumegate/internal/config"
	"github.com/nao1215/resumegate/internal/credential"
	"github.com/nao1215/resumegate/internal/issuer"
	"github.com/nao1215/resumegate/pkg/middleware"
	"github.com/nao1215/resumegate/pkg/route"
	"github.com/nao1215/resumegate/pkg/token"
)

// startupTimeout は起動時のDB初期化に使う上限時間。
const startupTimeout = 30 * time.Second

// Server は認証ゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// addr はサーバーのリッスンアドレス。
	addr string
	// gateway はリクエストごとの認証判定を行う。
	gateway *Gateway
	// db は開発用発行サービスのSQLite接続。DEV_ISSUERが無効な場合はnil。
	db *sql.DB
}

// NewServer は設定から新しいGatewayサーバーを生成する。
// 設定やルート定義に誤りがある場合は、リクエストを受け付ける前にエラーを返す。
func NewServer(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("設定が指定されていません")
	}

	classifier, err := route.NewClassifier(route.DefaultRules())
	if err != nil {
		return nil, fmt.Errorf("ルート定義が不正です: %w", err)
	}

	secret := []byte(cfg.JWTSecret)
	verifier, err := token.NewVerifier(secret)
	if err != nil {
		return nil, fmt.Errorf("トークン検証器の生成に失敗: %w", err)
	}

	store := credential.NewFactory(credential.Options{Secure: cfg.SecureCookies})

	gw, err := New(Options{
		Classifier:   classifier,
		Verifier:     verifier,
		Exchanger:    NewHTTPExchanger(cfg.RefreshTimeout, nil),
		Store:        store,
		AccessTTL:    cfg.AccessTokenTTL,
		RefreshTTL:   cfg.RefreshTokenTTL,
		LoginPath:    cfg.LoginPath,
		AllowedHosts: cfg.AllowedHosts,

		TrustForwardedHeaders: cfg.TrustProxy,
	})
	if err != nil {
		return nil, fmt.Errorf("ゲートウェイの生成に失敗: %w", err)
	}

	proxy, err := NewProxy(cfg.UpstreamURL, nil, WithTrustedForwardedHeaders(cfg.TrustProxy))
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(cfg.FrontendOrigins))

	// ヘルスチェックは認証判定より前に登録する
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})

	router.Use(gw.Handler())

	s := &Server{
		router:  router,
		addr:    cfg.Addr(),
		gateway: gw,
	}

	if cfg.DevIssuer {
		if err := s.mountDevIssuer(cfg, secret, store); err != nil {
			return nil, err
		}
	}

	router.NoRoute(proxy.Handler())
	return s, nil
}

// mountDevIssuer は開発用のトークン発行サービスを同じルーターに登録する。
func (s *Server) mountDevIssuer(cfg *config.Config, secret []byte, store credential.Factory) error {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	db, err := issuer.Open(ctx, cfg.DevIssuerDB)
	if err != nil {
		return fmt.Errorf("開発用発行サービスのDB初期化に失敗: %w", err)
	}

	iss, err := token.NewIssuer(secret)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("トークン発行器の生成に失敗: %w", err)
	}
	verifier, err := token.NewVerifier(secret)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("トークン検証器の生成に失敗: %w", err)
	}

	svc, err := issuer.New(db, issuer.Options{
		Issuer:     iss,
		Verifier:   verifier,
		Store:      store,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("開発用発行サービスの生成に失敗: %w", err)
	}
	if n, err := svc.Prune(ctx); err != nil {
		log.Printf("[Issuer] 期限切れトークンの削除に失敗: %v", err)
	} else if n > 0 {
		log.Printf("[Issuer] 期限切れトークンを%d件削除しました", n)
	}

	svc.Register(s.router)
	s.db = db
	log.Printf("[Issuer] 開発用トークン発行サービスを有効化しました")
	return nil
}

// Handler はHTTPハンドラを返す。テストで httptest.Server に渡すために使う。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(s.addr)
}

// Close はサーバーが保持するリソースを解放する。
func (s *Server) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
