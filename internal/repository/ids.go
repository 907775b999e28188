package repository

import "github.com/oklog/ulid/v2"

// newDocumentID はドキュメントIDを採番する。
// ULIDは作成時刻順にソート可能な26文字の文字列となる。
func newDocumentID() string {
	return ulid.Make().String()
}
