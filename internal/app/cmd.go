package app

// Command は起動モード。
type Command string

const (
	// CommandServe はオペレーター向けAPIを提供する。照合パスとページキャッシュ無効化もこのプロセスで動く。
	CommandServe Command = "serve"
	// CommandWorker は当日のブリーフィングページを定期的に再生成し、ページキャッシュを温める。
	CommandWorker Command = "worker"
	// CommandMigrate はコンテンツデータベースのスキーマを最新にして終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のserveの/healthを叩いて終了コードで結果を返す。
	// distrolessイメージにはcurlがないため、HEALTHCHECKから呼ぶ。
	CommandHealthcheck Command = "healthcheck"
)

// commands は引数の先頭語から起動モードへの対応。
var commands = map[string]Command{
	"serve":       CommandServe,
	"worker":      CommandWorker,
	"migrate":     CommandMigrate,
	"healthcheck": CommandHealthcheck,
}

// ParseCommand は引数の先頭語から起動モードを決める。
// 引数がない場合と未知の語はserveとして扱い、2語目以降は見ない。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}
