// tweetbridge はUIとGoogle認証・ドキュメントストアの間を取り持つWebSocketサーバー。
//
// 使い方:
//
//	tweetbridge [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/tweetbridge/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
