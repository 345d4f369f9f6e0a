// Package event は認証に関する監査イベントを表す。
// 発行サービスはログイン、トークン交換、ログアウトのたびにイベントを追記し、
// 既存のレコードを更新しない。
package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

// AggregateTypeUser はユーザーエンティティを表す。
const AggregateTypeUser AggregateType = "User"

// Type はイベントの種類を表す。
type Type string

const (
	// TypeUserLoggedIn はユーザーがログインしてトークンペアが発行されたことを表す。
	TypeUserLoggedIn Type = "UserLoggedIn"
	// TypeTokenRefreshed はリフレッシュトークンが新しいペアと交換されたことを表す。
	TypeTokenRefreshed Type = "TokenRefreshed"
	// TypeRefreshReuseDetected は使用済みのリフレッシュトークンが再提示されたことを表す。
	TypeRefreshReuseDetected Type = "RefreshReuseDetected"
	// TypeUserLoggedOut はユーザーがログアウトしたことを表す。
	TypeUserLoggedOut Type = "UserLoggedOut"
)

// Event は追記専用の監査イベントレコードを表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。トークン本体は含めない。
	Data json.RawMessage `json:"data"`
	// Version はAggregate内でのイベントの順序番号。保存時に採番される。
	Version int64 `json:"version"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// UserLoggedInData はUserLoggedInイベントのデータ。
type UserLoggedInData struct {
	// Email はログインしたメールアドレス。
	Email string `json:"email"`
	// Role は付与されたロール。
	Role string `json:"role"`
	// TokenID は発行したリフレッシュトークンのjti。
	TokenID string `json:"token_id"`
}

// TokenRefreshedData はTokenRefreshedイベントのデータ。
type TokenRefreshedData struct {
	// PreviousTokenID は使用済みにしたリフレッシュトークンのjti。
	PreviousTokenID string `json:"previous_token_id"`
	// TokenID は新たに発行したリフレッシュトークンのjti。
	TokenID string `json:"token_id"`
}

// RefreshReuseDetectedData はRefreshReuseDetectedイベントのデータ。
type RefreshReuseDetectedData struct {
	// TokenID は再提示されたリフレッシュトークンのjti。
	TokenID string `json:"token_id"`
	// Revoked は失効させたリフレッシュトークンの件数。
	Revoked int64 `json:"revoked"`
}

// UserLoggedOutData はUserLoggedOutイベントのデータ。
type UserLoggedOutData struct {
	// TokenID は失効させたリフレッシュトークンのjti。
	TokenID string `json:"token_id"`
}
