package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Use はトークンの用途を表す。
type Use string

const (
	// UseAccess はリクエストごとに検証されるアクセストークン。
	UseAccess Use = "access"
	// UseRefresh はトークンペアの再発行にのみ使うリフレッシュトークン。
	UseRefresh Use = "refresh"
)

// Claims はJWTトークンのクレーム（ペイロード）を表す。
type Claims struct {
	jwt.RegisteredClaims
	// Role はユーザーのロール。付与されない場合もある。
	Role string `json:"role,omitempty"`
	// Use はトークンの用途。
	Use Use `json:"token_use,omitempty"`
}

// Payload は検証に成功したトークンから取り出した情報。
// 検証処理だけが生成し、ゲートウェイ自身が組み立てることはない。
type Payload struct {
	// Subject は認証済みユーザーの識別子。
	Subject string
	// Role はユーザーのロール。空の場合もある。
	Role string
	// ID はトークンの一意識別子（jti）。
	ID string
	// ExpiresAt はトークンの有効期限。
	ExpiresAt time.Time
}

// Pair はアクセストークンとリフレッシュトークンの組。
type Pair struct {
	// AccessToken は新しいアクセストークン。
	AccessToken string `json:"accessToken"`
	// RefreshToken は新しいリフレッシュトークン。
	RefreshToken string `json:"refreshToken"`
}

// Clock は現在時刻を返す関数。テストで時刻を固定するために差し替える。
type Clock func() time.Time

// ErrEmptySecret は署名用シークレットが設定されていないことを表す。
var ErrEmptySecret = errors.New("JWT署名用シークレットが空です")

// options はVerifierとIssuerに共通する設定。
type options struct {
	now    Clock
	issuer string
}

// Option はVerifierとIssuerの設定を変更する。
type Option func(*options)

// WithClock は時刻の取得元を差し替える。
func WithClock(now Clock) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIssuerName は発行するトークンの iss クレームを設定する。
func WithIssuerName(name string) Option {
	return func(o *options) {
		o.issuer = name
	}
}

// newOptions は既定値に各Optionを適用する。
func newOptions(opts []Option) options {
	o := options{now: time.Now, issuer: "resumegate"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
