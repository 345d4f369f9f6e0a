// Package token はアクセストークンとリフレッシュトークン（HS256署名のJWT）の
// 発行と検証を提供する。
//
// 検証結果はエラーではなく Result 値として返す。呼び出し側は成功か失敗かだけで
// 分岐し、失敗の種類によって処理を変えない。
package token
