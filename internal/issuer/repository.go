package issuer

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nao1215/resumegate/pkg/event"
	"github.com/nao1215/resumegate/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DBTX は *sql.DB と *sql.Tx の共通インターフェース。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// User は発行サービスに登録されたユーザー。
type User struct {
	ID          string
	Email       string
	Role        string
	CreatedAt   time.Time
	LastLoginAt time.Time
}

// RefreshToken は発行済みリフレッシュトークンの管理レコード。
// トークン本体は保存せず、jtiだけを保持する。
type RefreshToken struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	UsedAt    sql.NullInt64
	RevokedAt sql.NullInt64
	CreatedAt time.Time
}

// Open はSQLiteデータベースを開いてマイグレーションを適用する。
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// SQLiteは書き込みが直列なので接続を1本に絞る
	db.SetMaxOpenConns(1)

	if _, err := migration.Run(ctx, db, migrationsFS, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return db, nil
}

// Queries はusers、refresh_tokens、auth_eventsに対するクエリをまとめる。
type Queries struct {
	db DBTX
}

// NewQueries は新しいQueriesを生成する。
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx はトランザクション上で動くQueriesを返す。
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const upsertUser = `
INSERT INTO users (id, email, role, created_at, last_login_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(email) DO UPDATE SET
    role = excluded.role,
    last_login_at = excluded.last_login_at
RETURNING id, email, role, created_at, last_login_at
`

// UpsertUser はメールアドレスでユーザーを作成し、既に存在する場合はロールと最終ログイン時刻を更新する。
func (q *Queries) UpsertUser(ctx context.Context, id, email, role string, now time.Time) (User, error) {
	row := q.db.QueryRowContext(ctx, upsertUser, id, email, role, now.Unix(), now.Unix())
	return scanUser(row)
}

const getUserByID = `
SELECT id, email, role, created_at, last_login_at FROM users WHERE id = ?
`

// GetUserByID はIDでユーザーを取得する。存在しない場合は sql.ErrNoRows を返す。
func (q *Queries) GetUserByID(ctx context.Context, id string) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByID, id))
}

func scanUser(row *sql.Row) (User, error) {
	var (
		u                  User
		created, lastLogin int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Role, &created, &lastLogin); err != nil {
		return User{}, err
	}
	u.CreatedAt = time.Unix(created, 0)
	u.LastLoginAt = time.Unix(lastLogin, 0)
	return u, nil
}

const createRefreshToken = `
INSERT INTO refresh_tokens (id, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)
`

// CreateRefreshToken は発行したリフレッシュトークンのjtiを記録する。
func (q *Queries) CreateRefreshToken(ctx context.Context, id, userID string, expiresAt, now time.Time) error {
	_, err := q.db.ExecContext(ctx, createRefreshToken, id, userID, expiresAt.Unix(), now.Unix())
	return err
}

const consumeRefreshToken = `
UPDATE refresh_tokens SET used_at = ?
WHERE id = ? AND used_at IS NULL AND revoked_at IS NULL AND expires_at > ?
RETURNING user_id
`

// ConsumeRefreshToken は未使用かつ有効なリフレッシュトークンを使用済みにし、所有者のIDを返す。
// 使用済み、失効済み、期限切れ、未登録の場合は sql.ErrNoRows を返す。
func (q *Queries) ConsumeRefreshToken(ctx context.Context, id string, now time.Time) (string, error) {
	var userID string
	if err := q.db.QueryRowContext(ctx, consumeRefreshToken, now.Unix(), id, now.Unix()).Scan(&userID); err != nil {
		return "", err
	}
	return userID, nil
}

const getRefreshToken = `
SELECT id, user_id, expires_at, used_at, revoked_at, created_at FROM refresh_tokens WHERE id = ?
`

// GetRefreshToken はjtiで管理レコードを取得する。
func (q *Queries) GetRefreshToken(ctx context.Context, id string) (RefreshToken, error) {
	var (
		rt               RefreshToken
		expires, created int64
	)
	err := q.db.QueryRowContext(ctx, getRefreshToken, id).
		Scan(&rt.ID, &rt.UserID, &expires, &rt.UsedAt, &rt.RevokedAt, &created)
	if err != nil {
		return RefreshToken{}, err
	}
	rt.ExpiresAt = time.Unix(expires, 0)
	rt.CreatedAt = time.Unix(created, 0)
	return rt, nil
}

const revokeRefreshToken = `
UPDATE refresh_tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL
`

// RevokeRefreshToken は1つのリフレッシュトークンを失効させる。
func (q *Queries) RevokeRefreshToken(ctx context.Context, id string, now time.Time) error {
	_, err := q.db.ExecContext(ctx, revokeRefreshToken, now.Unix(), id)
	return err
}

const revokeUserRefreshTokens = `
UPDATE refresh_tokens SET revoked_at = ?
WHERE user_id = ? AND used_at IS NULL AND revoked_at IS NULL
`

// RevokeUserRefreshTokens はユーザーの未使用のリフレッシュトークンをすべて失効させ、件数を返す。
func (q *Queries) RevokeUserRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, revokeUserRefreshTokens, now.Unix(), userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteExpiredRefreshTokens = `
DELETE FROM refresh_tokens WHERE expires_at <= ?
`

// DeleteExpiredRefreshTokens は期限切れの管理レコードを削除し、件数を返す。
func (q *Queries) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteExpiredRefreshTokens, now.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const appendEvent = `
INSERT INTO auth_events (id, aggregate_id, aggregate_type, event_type, data, version, created_at)
SELECT ?, ?, ?, ?, ?, COALESCE(MAX(version), 0) + 1, ?
FROM auth_events WHERE aggregate_id = ?
RETURNING version
`

// AppendEvent は監査イベントを追記し、採番したVersionをevに設定する。
func (q *Queries) AppendEvent(ctx context.Context, ev *event.Event) error {
	return q.db.QueryRowContext(ctx, appendEvent,
		ev.ID, ev.AggregateID, string(ev.AggregateType), string(ev.EventType), string(ev.Data),
		ev.CreatedAt.Unix(), ev.AggregateID,
	).Scan(&ev.Version)
}

const listEventsByAggregate = `
SELECT id, aggregate_id, aggregate_type, event_type, data, version, created_at
FROM auth_events WHERE aggregate_id = ? ORDER BY version
`

// ListEventsByAggregate は対象エンティティのイベントを古い順に返す。
func (q *Queries) ListEventsByAggregate(ctx context.Context, aggregateID string) ([]*event.Event, error) {
	rows, err := q.db.QueryContext(ctx, listEventsByAggregate, aggregateID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []*event.Event
	for rows.Next() {
		var (
			ev           event.Event
			aggType, typ string
			data         string
			created      int64
		)
		if err := rows.Scan(&ev.ID, &ev.AggregateID, &aggType, &typ, &data, &ev.Version, &created); err != nil {
			return nil, err
		}
		ev.AggregateType = event.AggregateType(aggType)
		ev.EventType = event.Type(typ)
		ev.Data = []byte(data)
		ev.CreatedAt = time.Unix(created, 0).UTC()
		events = append(events, &ev)
	}
	return events, rows.Err()
}
