// Package config は環境変数からゲートウェイの設定を読み込む。
//
// 読み込み順序:
//  1. .env.local（カレントディレクトリ、無ければ親ディレクトリ）を環境変数に展開する
//  2. cleanenv で構造体に割り当て、未設定の項目に既定値を入れる
//  3. Validate で必須項目と値の範囲を検証する
//
// JWT_SECRET が無い場合は起動時にエラーとなり、リクエストを1件も処理しない。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config はゲートウェイ全体の設定を保持する構造体。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `env:"PORT" env-default:"8080"`
	// GinMode はGinの実行モード (debug, release, test)。
	GinMode string `env:"GIN_MODE" env-default:"debug"`

	// JWTSecret はトークン署名用の秘密鍵。必須。
	JWTSecret string `env:"JWT_SECRET" env-required:"true"`
	// AccessTokenTTL はアクセストークンCookieの有効期間。
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL" env-default:"24h"`
	// RefreshTokenTTL はリフレッシュトークンCookieの有効期間。
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	// RefreshTimeout はトークンリフレッシュ呼び出しの上限時間。
	RefreshTimeout time.Duration `env:"REFRESH_TIMEOUT" env-default:"5s"`

	// LoginPath は未認証時のリダイレクト先。
	LoginPath string `env:"LOGIN_PATH" env-default:"/login"`
	// UpstreamURL は認証済みリクエストの転送先（履歴書アプリケーション）。
	UpstreamURL string `env:"UPSTREAM_URL" env-default:"http://localhost:3000"`
	// FrontendOrigins はCORSで許可するオリジン。
	FrontendOrigins []string `env:"FRONTEND_URL" env-separator:"," env-default:"http://localhost:3000"`
	// SecureCookies はCookieにSecure属性を付けるかどうか。
	SecureCookies bool `env:"SECURE_COOKIES" env-default:"false"`
	// AllowedHosts はトークンリフレッシュの呼び出し先として許可するHostヘッダーの値。
	// 空の場合はリクエストのHostをそのまま使う。
	AllowedHosts []string `env:"ALLOWED_HOSTS" env-separator:","`
	// TrustProxy はクライアントが送ったX-Forwarded-*ヘッダーを信用するかどうか。
	// TLSを終端するロードバランサーの後ろで動かす場合だけ有効にする。
	TrustProxy bool `env:"TRUST_PROXY" env-default:"false"`

	// DevIssuer は開発用のトークン発行サービスを同じプロセスで起動するかどうか。
	DevIssuer bool `env:"DEV_ISSUER" env-default:"false"`
	// DevIssuerDB は開発用発行サービスのSQLiteデータソース名。
	DevIssuerDB string `env:"DEV_ISSUER_DB" env-default:"file:gateway.db?_pragma=busy_timeout(5000)"`
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合は先に読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadEnvFile は .env.local を読み込む。既に設定済みの環境変数は上書きしない。
func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET が設定されていません"))
	}
	if c.AccessTokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("ACCESS_TOKEN_TTL は正の値である必要があります: %s", c.AccessTokenTTL))
	}
	if c.RefreshTokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("REFRESH_TOKEN_TTL は正の値である必要があります: %s", c.RefreshTokenTTL))
	}
	if c.RefreshTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REFRESH_TIMEOUT は正の値である必要があります: %s", c.RefreshTimeout))
	}
	if !strings.HasPrefix(c.LoginPath, "/") {
		errs = append(errs, fmt.Errorf("LOGIN_PATH は \"/\" で始まる必要があります: %q", c.LoginPath))
	}
	if u, err := url.Parse(c.UpstreamURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("UPSTREAM_URL は絶対URLである必要があります: %q", c.UpstreamURL))
	}
	if c.GinMode == "release" && len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("releaseモードでは JWT_SECRET は32バイト以上必要です"))
	}
	if c.GinMode == "release" && c.DevIssuer {
		errs = append(errs, errors.New("releaseモードでは DEV_ISSUER を有効にできません"))
	}
	if c.GinMode == "release" && len(c.AllowedHosts) == 0 {
		// Hostヘッダーがそのままリフレッシュの呼び出し先になるため
		errs = append(errs, errors.New("releaseモードでは ALLOWED_HOSTS の設定が必要です"))
	}
	for _, h := range c.AllowedHosts {
		if strings.TrimSpace(h) == "" || strings.ContainsAny(h, "/ ") {
			errs = append(errs, fmt.Errorf("ALLOWED_HOSTS のエントリが不正です: %q", h))
		}
	}

	return errors.Join(errs...)
}

// Addr はHTTPサーバーのリッスンアドレスを返す。
func (c *Config) Addr() string {
	return ":" + c.Port
}
