package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/hitoshi/tweetbridge/internal/model"
)

// SignInResult はサインイン1回分の結果。InfoとErrのどちらか一方だけが設定される。
type SignInResult struct {
	Info *model.UserInfo
	Err  *model.BridgeError
}

type pendingEntry struct {
	state  string
	owner  string
	result chan SignInResult
	timer  *time.Timer
}

// pendingRegistry は完了待ちのサインインをstateごとに保持する。
// 各エントリはコールバック、タイムアウト、後続要求による置き換えのいずれか1つで必ず解決される。
type pendingRegistry struct {
	mu      sync.Mutex
	timeout time.Duration
	byState map[string]*pendingEntry
	byOwner map[string]*pendingEntry
}

func newPendingRegistry(timeout time.Duration) *pendingRegistry {
	return &pendingRegistry{
		timeout: timeout,
		byState: make(map[string]*pendingEntry),
		byOwner: make(map[string]*pendingEntry),
	}
}

// begin はownerに対する新しいサインインを登録する。
// 同じownerの未完了サインインは置き換えエラーで解決する。
func (r *pendingRegistry) begin(owner string) (*pendingEntry, error) {
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	entry := &pendingEntry{
		state:  state,
		owner:  owner,
		result: make(chan SignInResult, 1),
	}

	r.mu.Lock()
	prev := r.byOwner[owner]
	if prev != nil {
		r.removeLocked(prev)
	}
	r.byState[state] = entry
	r.byOwner[owner] = entry
	entry.timer = time.AfterFunc(r.timeout, func() {
		if r.claim(state) != nil {
			entry.result <- SignInResult{Err: model.NewSignInTimeoutError()}
		}
	})
	r.mu.Unlock()

	if prev != nil {
		prev.result <- SignInResult{Err: model.NewSignInSupersededError()}
	}
	return entry, nil
}

// claim はstateに対応するエントリを取り出す。取り出したエントリの解決は呼び出し側の責任。
// 既に解決済みまたは不明なstateの場合はnilを返す。
func (r *pendingRegistry) claim(state string) *pendingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := r.byState[state]
	if entry == nil {
		return nil
	}
	r.removeLocked(entry)
	return entry
}

// contains はstateが未完了のサインインとして登録されているかを返す。
func (r *pendingRegistry) contains(state string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byState[state]
	return ok
}

// cancel はownerの未完了サインインを結果を送らずに破棄する。接続終了時に使う。
func (r *pendingRegistry) cancel(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry := r.byOwner[owner]; entry != nil {
		r.removeLocked(entry)
	}
}

func (r *pendingRegistry) removeLocked(entry *pendingEntry) {
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(r.byState, entry.state)
	if r.byOwner[entry.owner] == entry {
		delete(r.byOwner, entry.owner)
	}
}

// generateState は推測不能なOAuth stateを生成する。
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
