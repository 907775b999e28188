// Package auth はGoogle OAuthによるサインイン、ベアラートークン、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/tweetbridge/internal/model"
	"github.com/hitoshi/tweetbridge/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	PhotoURL       string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int           // セッション有効期間（秒）
	SignInTimeout time.Duration // サインイン完了までの猶予
	BaseURL       string        // authURLの組み立てに使う
}

// PendingSignIn は開始済みのサインイン。URLをUIに開かせ、Resultで結果を1回だけ受け取る。
type PendingSignIn struct {
	State  string
	URL    string
	Result <-chan SignInResult
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	tokens      *TokenIssuer
	pending     *pendingRegistry
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	tokens *TokenIssuer,
	config ServiceConfig,
) *Service {
	if config.SignInTimeout <= 0 {
		config.SignInTimeout = 10 * time.Minute
	}
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		tokens:      tokens,
		pending:     newPendingRegistry(config.SignInTimeout),
		config:      config,
		now:         time.Now,
	}
}

// BeginSignIn はownerに紐づくサインインを開始する。
// ownerの未完了サインインは auth/cancelled-popup-request で解決される。
func (s *Service) BeginSignIn(owner string) (*PendingSignIn, error) {
	entry, err := s.pending.begin(owner)
	if err != nil {
		return nil, err
	}
	return &PendingSignIn{
		State:  entry.state,
		URL:    s.config.BaseURL + "/auth/google/login?state=" + url.QueryEscape(entry.state),
		Result: entry.result,
	}, nil
}

// CancelSignIn はownerの未完了サインインを破棄する。
func (s *Service) CancelSignIn(owner string) {
	s.pending.cancel(owner)
}

// LoginURL は未完了のstateに対するIdPの認証URLを返す。不明なstateの場合はfalse。
func (s *Service) LoginURL(state string) (string, bool) {
	if !s.pending.contains(state) {
		return "", false
	}
	return s.oauth.GetLoginURL(state), true
}

// CallbackParams はOAuthコールバックのクエリパラメータ。
type CallbackParams struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

// CompleteSignIn はOAuthコールバックを処理し、待機中のサインインへ結果を1回だけ届ける。
// stateが不明な場合は誰にも届けず auth/invalid-state を返す。
func (s *Service) CompleteSignIn(ctx context.Context, params CallbackParams) (*model.UserInfo, error) {
	entry := s.pending.claim(params.State)
	if entry == nil {
		return nil, model.NewInvalidStateError()
	}

	info, err := s.signIn(ctx, params)
	if err != nil {
		bErr := model.AsBridgeError(err, model.NewInternalError())
		slog.Warn("sign-in failed",
			slog.String("code", bErr.Code),
			slog.String("error", err.Error()),
		)
		entry.result <- SignInResult{Err: bErr}
		return nil, bErr
	}

	entry.result <- SignInResult{Info: info}
	return info, nil
}

func (s *Service) signIn(ctx context.Context, params CallbackParams) (*model.UserInfo, error) {
	if params.Error != "" {
		return nil, model.NewProviderError(params.Error, params.ErrorDescription)
	}
	if params.Code == "" {
		return nil, model.NewProviderError("invalid-request", "認可コードがありません。")
	}

	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	oauthUser, err := s.oauth.ExchangeCode(ctx, params.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. identityからユーザーを特定、なければ作成
	user, err := s.findOrCreateUser(ctx, oauthUser)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, model.NewUnavailableError())
	}

	// 3. セッションとトークンを発行
	info, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// findOrCreateUser は未登録ユーザーの場合はusersレコードとidentitiesレコードを同時に作成する。
// 登録済みユーザーはIdPの最新プロフィールで更新する。
func (s *Service) findOrCreateUser(ctx context.Context, oauthUser *OAuthUserInfo) (*model.User, error) {
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, oauthUser.Provider, oauthUser.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	now := s.now()

	if identity == nil {
		newUser := &model.User{
			ID:        uuid.New().String(),
			Email:     oauthUser.Email,
			Name:      oauthUser.Name,
			PhotoURL:  oauthUser.PhotoURL,
			CreatedAt: now,
			UpdatedAt: now,
		}
		newIdentity := &model.Identity{
			ID:             uuid.New().String(),
			UserID:         newUser.ID,
			Provider:       oauthUser.Provider,
			ProviderUserID: oauthUser.ProviderUserID,
			CreatedAt:      now,
		}
		if err := s.userRepo.CreateWithIdentity(ctx, newUser, newIdentity); err != nil {
			return nil, fmt.Errorf("failed to create user and identity: %w", err)
		}
		slog.Info("new user created",
			slog.String("user_id", newUser.ID),
			slog.String("provider", oauthUser.Provider),
		)
		return newUser, nil
	}

	user, err := s.userRepo.FindByID(ctx, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found for identity %s", identity.ID)
	}

	if user.Email != oauthUser.Email || user.Name != oauthUser.Name || user.PhotoURL != oauthUser.PhotoURL {
		user.Email = oauthUser.Email
		user.Name = oauthUser.Name
		user.PhotoURL = oauthUser.PhotoURL
		user.UpdatedAt = now
		if err := s.userRepo.UpdateProfile(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to update profile: %w", err)
		}
	}

	slog.Info("existing user signed in",
		slog.String("user_id", user.ID),
		slog.String("provider", oauthUser.Provider),
	)
	return user, nil
}

// issue はセッションを作成し、それを参照するトークンを含むUserInfoを返す。
func (s *Service) issue(ctx context.Context, user *model.User) (*model.UserInfo, error) {
	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, model.NewUnavailableError())
	}
	token, err := s.tokens.Issue(user.ID, session.ID, session.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, model.NewInternalError())
	}
	return model.NewUserInfo(user, token, session.ID), nil
}

// Restore は既存のトークンからサインイン状態を復元し、新しいトークンを発行する。
// トークンが無効、セッションが失効済み、ユーザーが存在しない場合は (nil, nil) を返す。
func (s *Service) Restore(ctx context.Context, token string) (*model.UserInfo, error) {
	user, session, err := s.authenticate(ctx, token)
	if err != nil || user == nil {
		return nil, err
	}

	// 同じセッションを使い続け、トークンだけ取り直す
	fresh, err := s.tokens.Issue(user.ID, session.ID, session.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return model.NewUserInfo(user, fresh, session.ID), nil
}

// Authenticate はトークンを検証し、有効なセッションの持ち主を返す。
// 認証できない場合は (nil, nil) を返す。
func (s *Service) Authenticate(ctx context.Context, token string) (*model.User, error) {
	user, _, err := s.authenticate(ctx, token)
	return user, err
}

func (s *Service) authenticate(ctx context.Context, token string) (*model.User, *model.Session, error) {
	if token == "" {
		return nil, nil, nil
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			slog.Debug("bearer token rejected", slog.String("error", err.Error()))
			return nil, nil, nil
		}
		return nil, nil, err
	}

	session, err := s.sessionRepo.FindByID(ctx, claims.SessionID())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.UserID != claims.UserID() {
		return nil, nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil, nil
	}
	return user, session, nil
}

// SignOut はセッションを破棄する。以降そのセッションを参照するトークンは無効になる。
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user signed out", slog.String("session_id", sessionID))
	return nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
