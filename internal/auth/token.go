package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "tweetbridge"

// ErrInvalidToken はベアラートークンの検証に失敗した場合のエラー。
var ErrInvalidToken = errors.New("invalid bearer token")

// TokenClaims はベアラートークンのクレーム。
// subにユーザーID、jtiにセッションIDを保持する。
type TokenClaims struct {
	jwt.RegisteredClaims
}

// UserID はトークンの持ち主のユーザーIDを返す。
func (c *TokenClaims) UserID() string { return c.Subject }

// SessionID はトークンが参照するセッションIDを返す。
func (c *TokenClaims) SessionID() string { return c.ID }

// TokenIssuer はHS256で署名したベアラートークンを発行・検証する。
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), now: time.Now}
}

// Issue はセッションに紐づくトークンを発行する。有効期限はセッションと揃える。
func (i *TokenIssuer) Issue(userID, sessionID string, expiresAt time.Time) (string, error) {
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   userID,
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(i.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse はトークンの署名と有効期限を検証し、クレームを返す。
func (i *TokenIssuer) Parse(token string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing subject or session", ErrInvalidToken)
	}
	return claims, nil
}
