// Package issuer は開発環境向けのトークン発行サービスを提供する。
//
// 本番環境では外部の認証サービスがトークンを発行するため、このパッケージは
// DEV_ISSUER=true のときだけゲートウェイと同じプロセスで起動する。
//
// エンドポイント:
//   - POST /api/v1/auth/login         ユーザーを登録し、トークンペアを発行する
//   - POST /api/v1/auth/refresh-token リフレッシュトークンを使い捨てで交換する
//   - POST /api/v1/auth/logout        リフレッシュトークンを失効させる
//
// リフレッシュトークンはjtiをSQLiteに記録し、1回だけ交換できる。
// 使用済みのトークンが再提示された場合は、そのユーザーのトークンをすべて失効させる。
package issuer
