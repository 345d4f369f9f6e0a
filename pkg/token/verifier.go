package token

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Failure は検証失敗の種類を表す。
type Failure int

const (
	// FailureNone は検証に成功したことを表す。
	FailureNone Failure = iota
	// FailureMalformed はトークンの形式やクレームが不正であることを表す。
	FailureMalformed
	// FailureSignature は署名が一致しないことを表す。
	FailureSignature
	// FailureExpired は有効期限切れを表す。
	FailureExpired
)

// String はログ出力用の名前を返す。
func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureSignature:
		return "bad-signature"
	case FailureExpired:
		return "expired"
	default:
		return "malformed"
	}
}

// Result はトークン検証の結果。
// 成功時はPayloadが設定され、失敗時はFailureに理由が入る。
type Result struct {
	// Payload は検証に成功したトークンの内容。
	Payload Payload
	// Failure は失敗の種類。成功時は FailureNone。
	Failure Failure
}

// OK は検証に成功したかどうかを返す。
func (r Result) OK() bool {
	return r.Failure == FailureNone
}

// failed は失敗の結果を生成する。
func failed(f Failure) Result {
	return Result{Failure: f}
}

// Verifier はHS256で署名されたトークンを検証する。
// 生成後は不変であり、複数のgoroutineから同時に利用できる。
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier は署名用シークレットを受け取ってVerifierを生成する。
// シークレットが空の場合は ErrEmptySecret を返す。
func NewVerifier(secret []byte, opts ...Option) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	o := newOptions(opts)

	return &Verifier{
		secret: append([]byte(nil), secret...),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(o.now),
		),
	}, nil
}

// Verify はアクセストークンを検証する。
// 有効期限ちょうどの時刻は期限切れとして扱う。
func (v *Verifier) Verify(tokenString string) Result {
	return v.verify(tokenString, UseAccess)
}

// VerifyRefresh はリフレッシュトークンを検証する。
func (v *Verifier) VerifyRefresh(tokenString string) Result {
	return v.verify(tokenString, UseRefresh)
}

// verify は署名と有効期限を検証し、用途が期待と一致するかを確認する。
func (v *Verifier) verify(tokenString string, want Use) Result {
	if tokenString == "" {
		return failed(FailureMalformed)
	}

	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	})
	switch {
	case err == nil && token.Valid:
	case errors.Is(err, jwt.ErrTokenExpired):
		return failed(FailureExpired)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return failed(FailureSignature)
	default:
		return failed(FailureMalformed)
	}

	if claims.Subject == "" || !usable(claims.Use, want) {
		return failed(FailureMalformed)
	}

	return Result{
		Payload: Payload{
			Subject:   claims.Subject,
			Role:      claims.Role,
			ID:        claims.ID,
			ExpiresAt: claims.ExpiresAt.Time,
		},
	}
}

// usable はトークンの用途が期待する用途として使えるかを返す。
// 用途を持たないトークンはアクセストークンとしてのみ受け付ける。
func usable(got, want Use) bool {
	if want == UseRefresh {
		return got == UseRefresh
	}
	return got != UseRefresh
}
