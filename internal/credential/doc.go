// Package credential はアクセストークンとリフレッシュトークンをCookieに読み書きする。
//
// トークンの中身は解釈せず、不透明な文字列として扱う。
package credential
