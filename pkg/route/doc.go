// Package route はリクエストパスを認証ゲートウェイのルート分類に対応付ける。
//
// 分類は公開ページ、公開API、静的アセット、保護ルートの4種類で、
// HTTPメソッドやヘッダーには依存しない純粋関数として実装する。
package route
