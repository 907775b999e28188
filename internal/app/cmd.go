package app

// Command はtweetbridgeの起動モード。第1引数で選ぶ。
type Command string

const (
	// CommandServe はWebSocketブリッジとOAuthのエンドポイントを提供する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションと孤立いいねを定期的に掃除する。
	CommandWorker Command = "worker"
	// CommandMigrate はSTORE_DRIVERのストアにスキーマやインデックスを用意する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のサーバーの/healthを確認する。
	// distrolessイメージにはcurlがないため、Dockerのヘルスチェックから呼ぶ。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は引数の先頭からサブコマンドを決める。
// 引数がない場合や未知の値はserveとして扱い、2つ目以降の引数は見ない。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}
