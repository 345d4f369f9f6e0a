// Package middleware は認証ゲートウェイと開発用発行サービスで共通して使う
// Ginミドルウェアを提供する。
//
// パニックリカバリ、リクエストIDの付与、Cookie認証に対応したCORS設定を含む。
// 認証判定そのものは internal/gateway が担う。
package middleware
