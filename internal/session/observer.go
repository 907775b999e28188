// Package session は接続ごとのサインイン状態を保持し、状態遷移を購読者へ通知する。
package session

import (
	"sync"

	"github.com/hitoshi/tweetbridge/internal/model"
)

// Transition は1回の状態遷移。Userがnilの場合はサインアウト（absent）を表す。
type Transition struct {
	User *model.UserInfo
}

// Present はサインイン済み状態への遷移かを返す。
func (t Transition) Present() bool { return t.User != nil }

type subscriber struct {
	id int
	fn func(Transition)
}

// Observer は1接続分のセッション状態を保持する。グローバル状態は持たない。
// 通知は購読順に同期的に行われ、同時に複数の遷移が配送されることはない。
type Observer struct {
	mu      sync.Mutex
	current *model.UserInfo
	subs    []subscriber
	nextID  int

	// emitMu は配送順序を遷移順に揃える
	emitMu sync.Mutex
}

// NewObserver はabsent状態のObserverを生成する。
func NewObserver() *Observer {
	return &Observer{}
}

// Current は現在のユーザーを返す。サインインしていない場合はnil。
func (o *Observer) Current() *model.UserInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// SignIn はpresent状態へ遷移する。同じuidであっても以前の値は置き換えられ、マージはしない。
func (o *Observer) SignIn(user *model.UserInfo) {
	if user == nil {
		o.SignOut()
		return
	}
	o.transition(user)
}

// SignOut はabsent状態へ遷移する。既にabsentの場合は何もしない。
func (o *Observer) SignOut() {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	if o.current == nil {
		o.mu.Unlock()
		return
	}
	o.current = nil
	subs := o.snapshotLocked()
	o.mu.Unlock()

	deliver(subs, Transition{})
}

// Revoke はuserが現在のユーザーのままであればabsent状態へ遷移し、trueを返す。
// 確認の間に別のサインインで置き換えられていた場合は何もしない。
func (o *Observer) Revoke(user *model.UserInfo) bool {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	if user == nil || o.current != user {
		o.mu.Unlock()
		return false
	}
	o.current = nil
	subs := o.snapshotLocked()
	o.mu.Unlock()

	deliver(subs, Transition{})
	return true
}

func (o *Observer) transition(user *model.UserInfo) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	o.current = user
	subs := o.snapshotLocked()
	o.mu.Unlock()

	deliver(subs, Transition{User: user})
}

// Subscribe は状態遷移の購読を登録し、解除関数を返す。
// 登録時点の状態は通知しない。必要ならCurrentを参照すること。
// fnの中からSignIn/SignOutを呼んではならない。
func (o *Observer) Subscribe(fn func(Transition)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.subs = append(o.subs, subscriber{id: id, fn: fn})
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			for i, s := range o.subs {
				if s.id == id {
					o.subs = append(o.subs[:i:i], o.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (o *Observer) snapshotLocked() []subscriber {
	subs := make([]subscriber, len(o.subs))
	copy(subs, o.subs)
	return subs
}

func deliver(subs []subscriber, t Transition) {
	for _, s := range subs {
		s.fn(t)
	}
}
