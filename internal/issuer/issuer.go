package issuer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nao1215/resumegate/internal/credential"
	"github.com/nao1215/resumegate/pkg/event"
	"github.com/nao1215/resumegate/pkg/middleware"
	"github.com/nao1215/resumegate/pkg/token"
)

const (
	// LoginPath はログインAPIのパス。
	LoginPath = "/api/v1/auth/login"
	// RefreshPath はトークンリフレッシュAPIのパス。
	RefreshPath = "/api/v1/auth/refresh-token"
	// LogoutPath はログアウトAPIのパス。
	LogoutPath = "/api/v1/auth/logout"

	// defaultRole はロール未指定時に付与するロール。
	defaultRole = "member"
)

// errInvalidRefresh はリフレッシュトークンが使えないことを表す。
var errInvalidRefresh = errors.New("リフレッシュトークンが無効です")

// Options はServiceの依存関係と設定。
type Options struct {
	// Issuer はトークンの発行器。必須。
	Issuer *token.Issuer
	// Verifier はリフレッシュトークンの検証器。必須。
	Verifier *token.Verifier
	// Store はCookieの書き込みに使う。必須。
	Store credential.Factory
	// AccessTTL はアクセストークンの有効期間。
	AccessTTL time.Duration
	// RefreshTTL はリフレッシュトークンの有効期間。
	RefreshTTL time.Duration
	// Now は現在時刻。nilの場合は time.Now。
	Now token.Clock
}

// Service は開発用のトークン発行サービス。
// ログイン、リフレッシュ、ログアウトの3つのAPIを提供する。
type Service struct {
	db         *sql.DB
	queries    *Queries
	issuer     *token.Issuer
	verifier   *token.Verifier
	store      credential.Factory
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        token.Clock
}

// New は新しいServiceを生成する。
func New(db *sql.DB, opts Options) (*Service, error) {
	switch {
	case db == nil:
		return nil, errors.New("データベースが指定されていません")
	case opts.Issuer == nil:
		return nil, errors.New("Issuerが指定されていません")
	case opts.Verifier == nil:
		return nil, errors.New("Verifierが指定されていません")
	case opts.Store == nil:
		return nil, errors.New("Storeが指定されていません")
	case opts.AccessTTL <= 0 || opts.RefreshTTL <= 0:
		return nil, errors.New("トークンの有効期間は正の値である必要があります")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		db:         db,
		queries:    NewQueries(db),
		issuer:     opts.Issuer,
		verifier:   opts.Verifier,
		store:      opts.Store,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		now:        now,
	}, nil
}

// Register はルーターにAPIを登録する。
func (s *Service) Register(r gin.IRoutes) {
	r.POST(LoginPath, s.handleLogin())
	r.POST(RefreshPath, s.handleRefresh())
	r.POST(LogoutPath, s.handleLogout())
}

// loginRequest はログインAPIのリクエストボディ。
// 開発用のためパスワードは扱わない。
type loginRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role" binding:"omitempty,oneof=member admin"`
}

// refreshRequest はリフレッシュAPIのリクエストボディ。
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// userResponse はログインAPIで返すユーザー情報。
type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// handleLogin はユーザーを登録または更新し、トークンペアを発行するハンドラを返す。
func (s *Service) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
			return
		}
		role := req.Role
		if role == "" {
			role = defaultRole
		}

		ctx := c.Request.Context()
		now := s.now()
		user, err := s.queries.UpsertUser(ctx, uuid.NewString(), strings.ToLower(req.Email), role, now)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザー登録に失敗しました"})
			log.Printf("[Issuer] ユーザー登録エラー: request_id=%s error=%v", middleware.GetRequestID(c), err)
			return
		}

		pair, jti, err := s.issue(ctx, s.queries, user, now)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン発行に失敗しました"})
			log.Printf("[Issuer] トークン発行エラー: request_id=%s user_id=%s error=%v", middleware.GetRequestID(c), user.ID, err)
			return
		}
		if err := s.record(ctx, s.queries, user.ID, event.TypeUserLoggedIn, now, event.UserLoggedInData{
			Email:   user.Email,
			Role:    user.Role,
			TokenID: jti,
		}); err != nil {
			log.Printf("[Issuer] 監査イベントの記録に失敗: request_id=%s error=%v", middleware.GetRequestID(c), err)
		}
		s.writeCookies(c, pair)

		c.JSON(http.StatusOK, gin.H{
			"data": pair,
			"user": userResponse{ID: user.ID, Email: user.Email, Role: user.Role},
		})
	}
}

// handleRefresh はリフレッシュトークンを使い捨てで新しいトークンペアと交換するハンドラを返す。
// ボディにトークンが無い場合はCookieを使う。
func (s *Service) handleRefresh() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req refreshRequest
		// ボディが空の場合もCookieで続行する
		_ = c.ShouldBindJSON(&req)
		refresh := req.RefreshToken
		if refresh == "" {
			refresh, _ = s.store(c).Refresh()
		}
		if refresh == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "リフレッシュトークンがありません"})
			return
		}

		pair, err := s.rotate(c.Request.Context(), refresh)
		if err != nil {
			if errors.Is(err, errInvalidRefresh) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": errInvalidRefresh.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン発行に失敗しました"})
			log.Printf("[Issuer] リフレッシュエラー: request_id=%s error=%v", middleware.GetRequestID(c), err)
			return
		}
		s.writeCookies(c, pair)

		c.JSON(http.StatusOK, gin.H{"data": pair})
	}
}

// handleLogout はリフレッシュトークンを失効させてCookieを削除するハンドラを返す。
func (s *Service) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		store := s.store(c)
		if refresh, ok := store.Refresh(); ok {
			// 検証に失敗したトークンは失効させるものが無い
			if res := s.verifier.VerifyRefresh(refresh); res.OK() {
				if err := s.revoke(c.Request.Context(), res.Payload); err != nil {
					log.Printf("[Issuer] 失効処理エラー: request_id=%s error=%v", middleware.GetRequestID(c), err)
				}
			}
		}
		store.Clear()
		c.Status(http.StatusNoContent)
	}
}

// rotate はリフレッシュトークンを使用済みにし、同じユーザーに新しいペアを発行する。
// 使用済みトークンが再提示された場合は盗用とみなし、そのユーザーのトークンをすべて失効させる。
func (s *Service) rotate(ctx context.Context, refresh string) (token.Pair, error) {
	res := s.verifier.VerifyRefresh(refresh)
	if !res.OK() {
		return token.Pair{}, fmt.Errorf("%w: %s", errInvalidRefresh, res.Failure)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return token.Pair{}, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	q := s.queries.WithTx(tx)

	now := s.now()
	userID, err := q.ConsumeRefreshToken(ctx, res.Payload.ID, now)
	if errors.Is(err, sql.ErrNoRows) {
		if err := s.detectReuse(ctx, q, res.Payload.ID, now); err != nil {
			return token.Pair{}, err
		}
		if err := tx.Commit(); err != nil {
			return token.Pair{}, fmt.Errorf("コミットに失敗: %w", err)
		}
		return token.Pair{}, errInvalidRefresh
	}
	if err != nil {
		return token.Pair{}, fmt.Errorf("リフレッシュトークンの消費に失敗: %w", err)
	}
	if userID != res.Payload.Subject {
		return token.Pair{}, fmt.Errorf("%w: subjectが一致しません", errInvalidRefresh)
	}

	user, err := q.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return token.Pair{}, fmt.Errorf("%w: ユーザーが存在しません", errInvalidRefresh)
	}
	if err != nil {
		return token.Pair{}, fmt.Errorf("ユーザー取得に失敗: %w", err)
	}

	pair, jti, err := s.issue(ctx, q, user, now)
	if err != nil {
		return token.Pair{}, err
	}
	if err := s.record(ctx, q, user.ID, event.TypeTokenRefreshed, now, event.TokenRefreshedData{
		PreviousTokenID: res.Payload.ID,
		TokenID:         jti,
	}); err != nil {
		return token.Pair{}, err
	}
	if err := tx.Commit(); err != nil {
		return token.Pair{}, fmt.Errorf("コミットに失敗: %w", err)
	}
	return pair, nil
}

// detectReuse は消費できなかったトークンが使用済みだった場合にユーザーの全トークンを失効させる。
func (s *Service) detectReuse(ctx context.Context, q *Queries, id string, now time.Time) error {
	rt, err := q.GetRefreshToken(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("リフレッシュトークンの取得に失敗: %w", err)
	}
	if !rt.UsedAt.Valid {
		return nil
	}
	n, err := q.RevokeUserRefreshTokens(ctx, rt.UserID, now)
	if err != nil {
		return fmt.Errorf("リフレッシュトークンの失効に失敗: %w", err)
	}
	log.Printf("[Issuer] 使用済みリフレッシュトークンの再利用を検知: user_id=%s revoked=%d", rt.UserID, n)
	return s.record(ctx, q, rt.UserID, event.TypeRefreshReuseDetected, now, event.RefreshReuseDetectedData{
		TokenID: id,
		Revoked: n,
	})
}

// revoke はログアウトしたリフレッシュトークンを失効させてイベントを記録する。
func (s *Service) revoke(ctx context.Context, p token.Payload) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	q := s.queries.WithTx(tx)

	now := s.now()
	if err := q.RevokeRefreshToken(ctx, p.ID, now); err != nil {
		return err
	}
	if err := s.record(ctx, q, p.Subject, event.TypeUserLoggedOut, now, event.UserLoggedOutData{TokenID: p.ID}); err != nil {
		return err
	}
	return tx.Commit()
}

// record は監査イベントを追記する。
func (s *Service) record(ctx context.Context, q *Queries, userID string, typ event.Type, now time.Time, data any) error {
	ev, err := event.New(userID, event.AggregateTypeUser, typ, now, data)
	if err != nil {
		return err
	}
	if err := q.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("イベント %s の記録に失敗: %w", typ, err)
	}
	return nil
}

// Events はユーザーの監査イベントを古い順に返す。
func (s *Service) Events(ctx context.Context, userID string) ([]*event.Event, error) {
	return s.queries.ListEventsByAggregate(ctx, userID)
}

// issue はトークンペアを発行し、リフレッシュトークンのjtiを記録して返す。
func (s *Service) issue(ctx context.Context, q *Queries, user User, now time.Time) (token.Pair, string, error) {
	pair, claims, err := s.issuer.IssuePair(user.ID, user.Role, s.accessTTL, s.refreshTTL)
	if err != nil {
		return token.Pair{}, "", err
	}
	if err := q.CreateRefreshToken(ctx, claims.ID, user.ID, claims.ExpiresAt.Time, now); err != nil {
		return token.Pair{}, "", fmt.Errorf("リフレッシュトークンの記録に失敗: %w", err)
	}
	return pair, claims.ID, nil
}

func (s *Service) writeCookies(c *gin.Context, pair token.Pair) {
	store := s.store(c)
	store.SetAccess(pair.AccessToken, s.accessTTL)
	store.SetRefresh(pair.RefreshToken, s.refreshTTL)
}

// Prune は期限切れのリフレッシュトークン管理レコードを削除する。
func (s *Service) Prune(ctx context.Context) (int64, error) {
	return s.queries.DeleteExpiredRefreshTokens(ctx, s.now())
}
