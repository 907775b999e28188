// Package bridge はUIとのWebSocketメッセージ契約と、接続ごとのコマンド処理を提供する。
package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/hitoshi/tweetbridge/internal/model"
)

// 受信コマンド
const (
	CommandSignIn     = "signIn"
	CommandSignOut    = "signOut"
	CommandPost       = "post"
	CommandDelete     = "delete"
	CommandToggleLike = "toggleLike"
)

// 送信イベント
const (
	EventUserInfo = "userInfo"
	EventError    = "error"
	EventTweets   = "tweets"
	EventLikes    = "likes"
	EventAuthURL  = "authURL"
)

// Envelope は全メッセージ共通の {"type", "payload"} 形式。
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PostPayload はpostコマンドのペイロード。
type PostPayload struct {
	Body string `json:"body"`
}

// DeletePayload はdeleteコマンドのペイロード。
type DeletePayload struct {
	ID string `json:"id"`
}

// ToggleLikePayload はtoggleLikeコマンドのペイロード。
type ToggleLikePayload struct {
	UserUID  string `json:"userUid"`
	TweetUID string `json:"tweetUid"`
}

// AuthURLPayload はサインイン開始時にUIが開くべきURL。
type AuthURLPayload struct {
	URL string `json:"url"`
}

// decodeEnvelope は受信フレームをEnvelopeとして解釈する。
func decodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, model.NewInvalidCommandError("JSONとして解釈できません")
	}
	if env.Type == "" {
		return nil, model.NewInvalidCommandError("typeがありません")
	}
	return &env, nil
}

// decodePayload はペイロードを指定の型に展開する。ペイロード省略時はゼロ値のまま。
func decodePayload(env *Envelope, v any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return model.NewInvalidCommandError(fmt.Sprintf("%s のpayloadが不正です", env.Type))
	}
	return nil
}

// encodeEvent は送信イベントをJSONフレームに変換する。
func encodeEvent(eventType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return json.Marshal(Envelope{Type: eventType, Payload: raw})
}
