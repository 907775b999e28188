// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
type User struct {
	ID        string
	Email     string
	Name      string
	PhotoURL  string // 未設定の場合は空文字列
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
// ベアラートークンはjtiとしてセッションIDを保持し、セッション削除で無効になる。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// UserInfo はUIへ送出するサインイン済みユーザー情報。
// サインインのたびに新しい値で置き換えられ、マージはしない。
type UserInfo struct {
	Token       string  `json:"token"`
	Email       string  `json:"email"`
	DisplayName string  `json:"displayName"`
	PhotoURL    *string `json:"photoURL"`
	UID         string  `json:"uid"`

	// SessionID はサインアウト時に削除するセッションのID。UIには送出しない。
	SessionID string `json:"-"`
}

// NewUserInfo はユーザーとトークンからUserInfoを組み立てる。
// PhotoURLが空の場合はnull（absent）として扱う。
func NewUserInfo(user *User, token, sessionID string) *UserInfo {
	info := &UserInfo{
		Token:       token,
		Email:       user.Email,
		DisplayName: user.Name,
		UID:         user.ID,
		SessionID:   sessionID,
	}
	if user.PhotoURL != "" {
		photo := user.PhotoURL
		info.PhotoURL = &photo
	}
	return info
}

// PhotoURLOrEmpty はPhotoURLを文字列として返す。未設定の場合は空文字列。
func (u *UserInfo) PhotoURLOrEmpty() string {
	if u == nil || u.PhotoURL == nil {
		return ""
	}
	return *u.PhotoURL
}
