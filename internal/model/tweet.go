package model

// コレクション名
const (
	CollectionTweets = "tweets"
	CollectionLikes  = "likes"
)

// Tweet はtweetsコレクションのドキュメントを表す。
// 作成後は変更されない。FormattedDateは読み出し時に導出し、永続化しない。
type Tweet struct {
	ID             string `json:"uid" bson:"_id"`
	AuthorUID      string `json:"authorUid" bson:"authorUid"`
	AuthorName     string `json:"authorName" bson:"authorName"`
	AuthorPhotoURL string `json:"authorPhotoURL" bson:"authorPhotoURL"`
	Body           string `json:"body" bson:"body"`
	Date           int64  `json:"date" bson:"date"` // epochミリ秒
	FormattedDate  string `json:"formatedDate" bson:"-"`
}

// Like はlikesコレクションのドキュメントを表す。
// (UserUID, TweetUID) の組につき高々1件という制約は読み取り後の書き込みでのみ保たれる。
type Like struct {
	ID       string `json:"id" bson:"_id"`
	UserUID  string `json:"userUid" bson:"userUid"`
	TweetUID string `json:"tweetUid" bson:"tweetUid"`
}
