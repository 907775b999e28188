package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/tweetbridge/internal/model"
)

// MemoryStore はプロセス内で完結するバックエンド。開発用とテスト用。
// 全リポジトリとChangeNotifierを1つの構造体で実装し、書き込みのたびに購読者へ通知する。
type MemoryStore struct {
	mu         sync.Mutex
	users      map[string]model.User
	identities map[string]model.Identity // key: provider + "\x00" + providerUserID
	sessions   map[string]model.Session
	tweets     map[string]model.Tweet
	likes      []model.Like
	watchers   map[string][]chan struct{}

	now func() time.Time
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]model.User),
		identities: make(map[string]model.Identity),
		sessions:   make(map[string]model.Session),
		tweets:     make(map[string]model.Tweet),
		watchers:   make(map[string][]chan struct{}),
		now:        time.Now,
	}
}

// NewMemoryBackedStore はMemoryStoreを各リポジトリとして束ねたStoreを返す。
func NewMemoryBackedStore(m *MemoryStore) *Store {
	return &Store{
		Driver:     "memory",
		Users:      m.Users(),
		Identities: m.Identities(),
		Sessions:   m.Sessions(),
		Tweets:     m.Tweets(),
		Likes:      m.Likes(),
		Changes:    m,
		Health:     m,
	}
}

// メソッド名が衝突するため、リポジトリごとにビューを切り出す。
type (
	memoryUsers      struct{ m *MemoryStore }
	memoryIdentities struct{ m *MemoryStore }
	memorySessions   struct{ m *MemoryStore }
	memoryTweets     struct{ m *MemoryStore }
	memoryLikes      struct{ m *MemoryStore }
)

func (m *MemoryStore) Users() UserRepository          { return memoryUsers{m} }
func (m *MemoryStore) Identities() IdentityRepository { return memoryIdentities{m} }
func (m *MemoryStore) Sessions() SessionRepository    { return memorySessions{m} }
func (m *MemoryStore) Tweets() TweetRepository        { return memoryTweets{m} }
func (m *MemoryStore) Likes() LikeRepository          { return memoryLikes{m} }

// PingContext は常に成功する。
func (m *MemoryStore) PingContext(ctx context.Context) error {
	return ctx.Err()
}

// Watch は指定コレクションへの書き込みごとに値を送るチャネルを返す。
func (m *MemoryStore) Watch(ctx context.Context, collection string) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	m.mu.Lock()
	m.watchers[collection] = append(m.watchers[collection], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.watchers[collection]
		for i, c := range list {
			if c == ch {
				m.watchers[collection] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

// notifyLocked はm.muを保持した状態で呼ぶこと。
func (m *MemoryStore) notifyLocked(collection string) {
	for _, ch := range m.watchers[collection] {
		signal(ch)
	}
}

func identityKey(provider, providerUserID string) string {
	return provider + "\x00" + providerUserID
}

// --- users ---

func (r memoryUsers) FindByID(ctx context.Context, id string) (*model.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r memoryUsers) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.users[user.ID]; ok {
		return fmt.Errorf("failed to insert user: duplicate id %s", user.ID)
	}
	key := identityKey(identity.Provider, identity.ProviderUserID)
	if _, ok := r.m.identities[key]; ok {
		return fmt.Errorf("failed to insert identity: duplicate provider user %s", identity.ProviderUserID)
	}
	r.m.users[user.ID] = *user
	r.m.identities[key] = *identity
	return nil
}

func (r memoryUsers) UpdateProfile(ctx context.Context, user *model.User) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cur, ok := r.m.users[user.ID]
	if !ok {
		return fmt.Errorf("user not found: %s", user.ID)
	}
	cur.Email = user.Email
	cur.Name = user.Name
	cur.PhotoURL = user.PhotoURL
	cur.UpdatedAt = user.UpdatedAt
	r.m.users[user.ID] = cur
	return nil
}

// --- identities ---

func (r memoryIdentities) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	i, ok := r.m.identities[identityKey(provider, providerUserID)]
	if !ok {
		return nil, nil
	}
	return &i, nil
}

// --- sessions ---

func (r memorySessions) Create(ctx context.Context, session *model.Session) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.sessions[session.ID] = *session
	return nil
}

func (r memorySessions) FindByID(ctx context.Context, id string) (*model.Session, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.sessions[id]
	if !ok || !s.ExpiresAt.After(r.m.now()) {
		return nil, nil
	}
	return &s, nil
}

func (r memorySessions) DeleteByID(ctx context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	delete(r.m.sessions, id)
	return nil
}

func (r memorySessions) DeleteExpired(ctx context.Context) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	now := r.m.now()
	for id, s := range r.m.sessions {
		if !s.ExpiresAt.After(now) {
			delete(r.m.sessions, id)
			n++
		}
	}
	return n, nil
}

// --- tweets ---

func (r memoryTweets) Create(ctx context.Context, tweet *model.Tweet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if tweet.ID == "" {
		tweet.ID = newDocumentID()
	}
	stored := *tweet
	stored.FormattedDate = ""
	r.m.tweets[tweet.ID] = stored
	r.m.notifyLocked(model.CollectionTweets)
	return nil
}

func (r memoryTweets) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.tweets[id]; !ok {
		return nil
	}
	delete(r.m.tweets, id)
	r.m.notifyLocked(model.CollectionTweets)
	return nil
}

func (r memoryTweets) ListOrderedByDate(ctx context.Context) ([]model.Tweet, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	tweets := make([]model.Tweet, 0, len(r.m.tweets))
	for _, t := range r.m.tweets {
		tweets = append(tweets, t)
	}
	sort.Slice(tweets, func(i, j int) bool {
		if tweets[i].Date != tweets[j].Date {
			return tweets[i].Date > tweets[j].Date
		}
		return tweets[i].ID > tweets[j].ID
	})
	return tweets, nil
}

// --- likes ---

func (r memoryLikes) FindByUserAndTweet(ctx context.Context, userUID, tweetUID string) (*model.Like, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, l := range r.m.likes {
		if l.UserUID == userUID && l.TweetUID == tweetUID {
			found := l
			return &found, nil
		}
	}
	return nil, nil
}

func (r memoryLikes) Create(ctx context.Context, like *model.Like) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if like.ID == "" {
		like.ID = newDocumentID()
	}
	r.m.likes = append(r.m.likes, *like)
	r.m.notifyLocked(model.CollectionLikes)
	return nil
}

func (r memoryLikes) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i, l := range r.m.likes {
		if l.ID == id {
			r.m.likes = append(r.m.likes[:i], r.m.likes[i+1:]...)
			r.m.notifyLocked(model.CollectionLikes)
			return nil
		}
	}
	return nil
}

func (r memoryLikes) ListByTweet(ctx context.Context, tweetUID string) ([]model.Like, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	likes := []model.Like{}
	for _, l := range r.m.likes {
		if l.TweetUID == tweetUID {
			likes = append(likes, l)
		}
	}
	return likes, nil
}

func (r memoryLikes) ListAll(ctx context.Context) ([]model.Like, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	likes := make([]model.Like, len(r.m.likes))
	copy(likes, r.m.likes)
	return likes, nil
}

var (
	_ ChangeNotifier     = (*MemoryStore)(nil)
	_ Pinger             = (*MemoryStore)(nil)
	_ UserRepository     = memoryUsers{}
	_ IdentityRepository = memoryIdentities{}
	_ SessionRepository  = memorySessions{}
	_ TweetRepository    = memoryTweets{}
	_ LikeRepository     = memoryLikes{}
)
