package model

import (
	"errors"
	"fmt"
)

// BridgeError はUIへ送出するエラーイベントの統一フォーマットを表す。
// 全ての失敗経路はこの形に正規化される。
type BridgeError struct {
	Code    string `json:"code"`    // 機械可読なエラーコード
	Message string `json:"message"` // 人間向けメッセージ
}

// Error はerrorインターフェースを実装する。
func (e *BridgeError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated    = "auth/unauthenticated"
	ErrCodeSignInTimeout      = "auth/timeout"
	ErrCodeSignInSuperseded   = "auth/cancelled-popup-request"
	ErrCodeInvalidState       = "auth/invalid-state"
	ErrCodeNetworkRequest     = "auth/network-request-failed"
	ErrCodeInvalidArgument    = "invalid-argument"
	ErrCodeInvalidCommand     = "invalid-command"
	ErrCodeRateLimited        = "resource-exhausted"
	ErrCodeUnavailable        = "unavailable"
	ErrCodePartialCleanup     = "partial-cleanup"
	ErrCodeSubscriptionFailed = "subscription-failed"
	ErrCodeInternal           = "internal"
)

// providerErrorCodePrefix はIdP由来のエラーコードに付与する接頭辞。
const providerErrorCodePrefix = "auth/"

// NewProviderError はIdPが返したエラーコードとメッセージをそのまま包む。
func NewProviderError(providerCode, message string) *BridgeError {
	if message == "" {
		message = "認証プロバイダーでエラーが発生しました。"
	}
	return &BridgeError{
		Code:    providerErrorCodePrefix + providerCode,
		Message: message,
	}
}

// NewNetworkRequestError はIdPとの通信に失敗した場合のエラーを生成する。
func NewNetworkRequestError() *BridgeError {
	return &BridgeError{
		Code:    ErrCodeNetworkRequest,
		Message: "認証プロバイダーとの通信に失敗しました。",
	}
}

// NewUnauthenticatedError はサインインが必要な操作を未認証で実行した場合のエラーを生成する。
func NewUnauthenticatedError() *BridgeError {
	return &BridgeError{
		Code:    ErrCodeUnauthenticated,
		Message: "サインインが必要です。",
	}
}

// NewSignInTimeoutError はサインインが期限内に完了しなかった場合のエラーを生成する。
func NewSignInTimeoutError() *BridgeError {
	return &BridgeError{
		Code:    ErrCodeSignInTimeout,
		Message: "サインインがタイムアウトしました。",
	}
}

// NewSignInSupersededError は後続のサインイン要求で置き換えられた場合のエラーを生成する。
func NewSignInSupersededError() *BridgeError {
	return &BridgeError{
		Code:    ErrCodeSignInSuperseded,
		Message: "新しいサインイン要求により中断されました。",
	}
}

// NewInvalidStateError は不明または期限切れのstateでコールバックされた場合のエラーを生成する。
func NewInvalidStateError() *BridgeError {
	return &BridgeError{
		Code:    ErrCodeInvalidState,
		Message: "サインイン要求が見つからないか、期限切れです。",
	}
}

// NewInvalidArgumentError は入力値が不正な場合のエラーを生成する。
func NewInvalidArgumentError(reason string) *BridgeError {
	return &BridgeError{
		Code:    ErrCodeInvalidArgument,
		Message: fmt.Sprintf("入力値が不正です: %s", reason),
	}
}

// NewInvalidCommandError は解釈できないコマンドを受信した場合のエラーを生成する。
func NewInvalidCommandError(reason string) *BridgeError {
	return &BridgeError{
		Code:    ErrCodeInvalidCommand,
		Message: fmt.Sprintf("不正なコマンドです: %s", reason),
	}
}

// NewRateLimitedError はレート制限を超過した場合のエラーを生成する。
func NewRateLimitedError() *BridgeError {
	return &BridgeError{
		Code:    ErrCodeRateLimited,
		Message: "リクエストが多すぎます。しばらく待ってから再度お試しください。",
	}
}

// NewUnavailableError はストアへの書き込みに失敗した場合のエラーを生成する。
// 詳細はログのみに記録し、UIには一般的なメッセージを返す。
func NewUnavailableError() *BridgeError {
	return &BridgeError{
		Code:    ErrCodeUnavailable,
		Message: "データストアへのアクセスに失敗しました。",
	}
}

// NewPartialCleanupError は依存ドキュメントの一部が削除できなかった場合のエラーを生成する。
func NewPartialCleanupError(failed, attempted int) *BridgeError {
	return &BridgeError{
		Code:    ErrCodePartialCleanup,
		Message: fmt.Sprintf("関連するいいね %d件中%d件の削除に失敗しました。", attempted, failed),
	}
}

// NewSubscriptionFailedError はライブ購読の再読み込みに失敗した場合のエラーを生成する。
func NewSubscriptionFailedError(collection string) *BridgeError {
	return &BridgeError{
		Code:    ErrCodeSubscriptionFailed,
		Message: fmt.Sprintf("%s の更新の受信に失敗しました。", collection),
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *BridgeError {
	return &BridgeError{
		Code:    ErrCodeInternal,
		Message: "内部エラーが発生しました。",
	}
}

// AsBridgeError は任意のエラーをBridgeErrorに正規化する。
// エラーチェーンにBridgeErrorが含まれていればそれを返し、
// 含まれていなければfallbackを返す。
func AsBridgeError(err error, fallback *BridgeError) *BridgeError {
	var bErr *BridgeError
	if errors.As(err, &bErr) {
		return bErr
	}
	return fallback
}
