// Package gateway は履歴書アプリケーションの前段で動く認証ゲートウェイを提供する。
//
// すべてのリクエストについてルートを分類し、保護ルートではアクセストークンを検証する。
// アクセストークンが無効な場合はリフレッシュトークンで1回だけ再発行を試み、
// それでも認証できなければログイン画面にリダイレクトする。
// 認証済みリクエストは上流のアプリケーションに転送する。
package gateway
