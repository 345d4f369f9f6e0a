package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer はトークンを発行する。
// 本番環境では外部の認証サービスが発行を担うため、開発用の発行サービスとテストで使う。
type Issuer struct {
	secret []byte
	now    Clock
	name   string
}

// NewIssuer は署名用シークレットを受け取ってIssuerを生成する。
func NewIssuer(secret []byte, opts ...Option) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	o := newOptions(opts)

	return &Issuer{
		secret: append([]byte(nil), secret...),
		now:    o.now,
		name:   o.issuer,
	}, nil
}

// Issue は指定した用途と有効期間でトークンを発行し、署名済み文字列とクレームを返す。
func (i *Issuer) Issue(use Use, subject, role string, ttl time.Duration) (string, Claims, error) {
	if subject == "" {
		return "", Claims{}, fmt.Errorf("subjectが空のトークンは発行できません")
	}

	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subject,
			Issuer:    i.name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
		Use:  use,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, claims, nil
}

// IssuePair はアクセストークンとリフレッシュトークンの組を発行する。
// 戻り値のClaimsはリフレッシュトークンのもので、発行サービスが使い捨ての管理に使う。
func (i *Issuer) IssuePair(subject, role string, accessTTL, refreshTTL time.Duration) (Pair, Claims, error) {
	access, _, err := i.Issue(UseAccess, subject, role, accessTTL)
	if err != nil {
		return Pair{}, Claims{}, fmt.Errorf("アクセストークンの発行に失敗: %w", err)
	}
	refresh, refreshClaims, err := i.Issue(UseRefresh, subject, role, refreshTTL)
	if err != nil {
		return Pair{}, Claims{}, fmt.Errorf("リフレッシュトークンの発行に失敗: %w", err)
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, refreshClaims, nil
}
