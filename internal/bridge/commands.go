package bridge

import (
	"context"
	"log/slog"
)

type commandHandler func(c *conn, ctx context.Context, env *Envelope) error

var commandHandlers = map[string]commandHandler{
	CommandSignIn:     (*conn).handleSignIn,
	CommandSignOut:    (*conn).handleSignOut,
	CommandPost:       (*conn).handlePost,
	CommandDelete:     (*conn).handleDelete,
	CommandToggleLike: (*conn).handleToggleLike,
}

// handleSignIn はサインインを開始してauthURLを送り、結果を1回だけ待つ。
// 成功ならセッション状態をpresentにし、失敗ならerrorを送る。
func (c *conn) handleSignIn(ctx context.Context, env *Envelope) error {
	pending, err := c.server.auth.BeginSignIn(c.id)
	if err != nil {
		return err
	}
	c.emit(EventAuthURL, AuthURLPayload{URL: pending.URL})

	select {
	case res := <-pending.Result:
		if res.Err != nil {
			return res.Err
		}
		c.observer.SignIn(res.Info)
		slog.Info("bridge signed in",
			slog.String("conn_id", c.id),
			slog.String("user_id", res.Info.UID),
		)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleSignOut はセッション状態をabsentにし、セッションを破棄する。
// 応答は送らず、失敗はログにのみ残す。
func (c *conn) handleSignOut(ctx context.Context, env *Envelope) error {
	user := c.observer.Current()
	c.observer.SignOut()
	if user == nil || user.SessionID == "" {
		return nil
	}
	if n := c.server.revokeSession(user.SessionID, c); n > 0 {
		slog.Info("signed out other connections sharing the session",
			slog.String("conn_id", c.id),
			slog.Int("connections", n),
		)
	}

	// 接続が切れてもセッション削除は完了させる
	signOutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.server.config.SignOutTimeout)
	defer cancel()
	if err := c.server.auth.SignOut(signOutCtx, user.SessionID); err != nil {
		slog.Warn("failed to delete session on sign-out",
			slog.String("conn_id", c.id),
			slog.String("user_id", user.UID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (c *conn) handlePost(ctx context.Context, env *Envelope) error {
	user, err := c.authorize(ctx)
	if err != nil {
		return err
	}
	var p PostPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}
	_, err = c.server.tweets.Post(ctx, user, p.Body)
	return err
}

// handleDelete はツイートと関連いいねを削除する。所有者の確認はストア側の権限に委ねる。
func (c *conn) handleDelete(ctx context.Context, env *Envelope) error {
	if _, err := c.authorize(ctx); err != nil {
		return err
	}
	var p DeletePayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}
	report, err := c.server.tweets.Delete(ctx, p.ID)
	c.server.metrics.RecordCleanupFailures(report.Failed)
	return err
}

// handleToggleLike はいいねを反転する。userUidが省略された場合はサインイン中のユーザーを使う。
func (c *conn) handleToggleLike(ctx context.Context, env *Envelope) error {
	user, err := c.authorize(ctx)
	if err != nil {
		return err
	}
	var p ToggleLikePayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}
	if p.UserUID == "" {
		p.UserUID = user.UID
	}
	_, err = c.server.likes.Toggle(ctx, p.UserUID, p.TweetUID)
	return err
}
