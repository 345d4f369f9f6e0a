package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// chdir はカレントディレクトリを一時的に変更し、テスト終了時に戻す。
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

// workDir は .env.local を含まない作業ディレクトリに移動する。
// Load は親ディレクトリも探すため、TempDir の1階層下を使う。
func workDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "work")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	chdir(t, dir)
	return dir
}

// validConfig は Validate を通過する最小の設定。
func validConfig() Config {
	return Config{
		Port:            "8080",
		GinMode:         "debug",
		JWTSecret:       "dev-secret",
		AccessTokenTTL:  24 * time.Hour,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		RefreshTimeout:  5 * time.Second,
		LoginPath:       "/login",
		UpstreamURL:     "http://localhost:3000",
	}
}

func TestLoad_Defaults(t *testing.T) {
	workDir(t)
	t.Setenv("JWT_SECRET", "secret-from-env")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "secret-from-env", cfg.JWTSecret)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, 24*time.Hour, cfg.AccessTokenTTL)
	require.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL)
	require.Equal(t, 5*time.Second, cfg.RefreshTimeout)
	require.Equal(t, "/login", cfg.LoginPath)
	require.Equal(t, []string{"http://localhost:3000"}, cfg.FrontendOrigins)
	require.False(t, cfg.SecureCookies)
	require.False(t, cfg.DevIssuer)
	require.False(t, cfg.TrustProxy)
	require.Empty(t, cfg.AllowedHosts)
	require.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_MissingSecretFailsFast(t *testing.T) {
	workDir(t)
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "JWT")
}

// アクセストークンとリフレッシュトークンの有効期間は独立して設定できる。
func TestLoad_IndependentTTLs(t *testing.T) {
	workDir(t)
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("ACCESS_TOKEN_TTL", "15m")
	t.Setenv("REFRESH_TOKEN_TTL", "720h")
	t.Setenv("REFRESH_TIMEOUT", "2s")
	t.Setenv("FRONTEND_URL", "http://localhost:3000,https://resume.example.com")
	t.Setenv("SECURE_COOKIES", "true")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, 720*time.Hour, cfg.RefreshTokenTTL)
	require.Equal(t, 2*time.Second, cfg.RefreshTimeout)
	require.Equal(t, []string{"http://localhost:3000", "https://resume.example.com"}, cfg.FrontendOrigins)
	require.True(t, cfg.SecureCookies)
}

func TestLoad_AllowedHosts(t *testing.T) {
	workDir(t)
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("ALLOWED_HOSTS", "resume.example.com,localhost:8080")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"resume.example.com", "localhost:8080"}, cfg.AllowedHosts)
}

// releaseモードではリフレッシュの呼び出し先を制限しない設定で起動できない。
func TestLoad_ReleaseRequiresAllowedHosts(t *testing.T) {
	workDir(t)
	t.Setenv("GIN_MODE", "release")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("ALLOWED_HOSTS", "")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "ALLOWED_HOSTS")

	t.Setenv("ALLOWED_HOSTS", "resume.example.com")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"resume.example.com"}, cfg.AllowedHosts)
}

func TestLoad_EnvLocalFile(t *testing.T) {
	dir := workDir(t)
	t.Setenv("JWT_SECRET", "")
	require.NoError(t, os.Unsetenv("JWT_SECRET"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"), []byte("JWT_SECRET=from-env-local\nPORT=9090\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("PORT")
		_ = os.Unsetenv("JWT_SECRET")
	})

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "from-env-local", cfg.JWTSecret)
	require.Equal(t, "9090", cfg.Port)
}

func TestLoad_BrokenDuration(t *testing.T) {
	workDir(t)
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("ACCESS_TOKEN_TTL", "one-day")

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "正常な設定", mutate: func(*Config) {}},
		{name: "空白だけのシークレット", mutate: func(c *Config) { c.JWTSecret = "   " }, errMsg: "JWT_SECRET"},
		{name: "0のアクセストークン有効期間", mutate: func(c *Config) { c.AccessTokenTTL = 0 }, errMsg: "ACCESS_TOKEN_TTL"},
		{name: "負のリフレッシュトークン有効期間", mutate: func(c *Config) { c.RefreshTokenTTL = -time.Hour }, errMsg: "REFRESH_TOKEN_TTL"},
		{name: "0のリフレッシュタイムアウト", mutate: func(c *Config) { c.RefreshTimeout = 0 }, errMsg: "REFRESH_TIMEOUT"},
		{name: "相対パスのログイン画面", mutate: func(c *Config) { c.LoginPath = "login" }, errMsg: "LOGIN_PATH"},
		{name: "相対URLの転送先", mutate: func(c *Config) { c.UpstreamURL = "localhost:3000" }, errMsg: "UPSTREAM_URL"},
		{name: "releaseモードの短いシークレット", mutate: func(c *Config) { c.GinMode = "release" }, errMsg: "32バイト以上"},
		{
			name: "releaseモードで許可ホストが未設定",
			mutate: func(c *Config) {
				c.GinMode = "release"
				c.JWTSecret = "0123456789abcdef0123456789abcdef"
			},
			errMsg: "ALLOWED_HOSTS",
		},
		{
			name: "releaseモードの正常な設定",
			mutate: func(c *Config) {
				c.GinMode = "release"
				c.JWTSecret = "0123456789abcdef0123456789abcdef"
				c.AllowedHosts = []string{"resume.example.com"}
			},
		},
		{name: "パスを含む許可ホスト", mutate: func(c *Config) { c.AllowedHosts = []string{"resume.example.com/api"} }, errMsg: "ALLOWED_HOSTS"},
		{name: "空の許可ホスト", mutate: func(c *Config) { c.AllowedHosts = []string{"resume.example.com", ""} }, errMsg: "ALLOWED_HOSTS"},
		{
			name: "releaseモードの開発用発行サービス",
			mutate: func(c *Config) {
				c.GinMode = "release"
				c.JWTSecret = "0123456789abcdef0123456789abcdef"
				c.AllowedHosts = []string{"resume.example.com"}
				c.DevIssuer = true
			},
			errMsg: "DEV_ISSUER",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
