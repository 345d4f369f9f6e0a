// Package httpclient はJSONで通信するHTTPクライアントを提供する。
//
// ゲートウェイが認証サービスのトークンリフレッシュAPIを呼び出す際に使用する。
// リクエストのCookieをコンテキスト経由で引き継ぎ、ブラウザの
// credentials: "include" と同じくクライアントの資格情報を送信する。
package httpclient
