// Package security はユーザー入力の正規化を提供する。
//
// ツイート本文はプレーンテキストとして受け取った通りに保存する。
// エスケープは表示側の責務で、ここでは制御文字の除去とマークアップの検出だけを行う。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキスト入力を正規化する。
// ポリシーは生成後に変更しないため、複数ゴルーチンから安全に使える。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize は改行とタブ以外の制御文字を除いた文字列を返す。
// それ以外の文字は記号を含めて入力のまま残す。
func (s *TextSanitizer) Sanitize(raw string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, raw)
}

// ContainsMarkup はHTMLとして解釈するとタグを含む入力かどうかを返す。
// 本文は書き換えない。ログの属性付けに使う。
func (s *TextSanitizer) ContainsMarkup(raw string) bool {
	text := strings.ReplaceAll(raw, "\r", "")
	stripped := html.UnescapeString(s.policy.Sanitize(text))
	return stripped != html.UnescapeString(text)
}
