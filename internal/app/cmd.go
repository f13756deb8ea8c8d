package app

import (
	"fmt"
	"io"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はクリーンアップワーカーとして起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はマイグレーションと初期ロールの割り当てを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandSetPassword は運用者がユーザーのパスワードを再設定することを示す。
	CommandSetPassword Command = "set-password"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// commands はサブコマンドと説明の一覧。Usageの表示順に並べる。
var commands = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "HTTP APIサーバーを起動する（デフォルト）"},
	{CommandWorker, "期限切れコードとログイン記録のクリーンアップを定期実行する"},
	{CommandMigrate, "マイグレーションを適用し、SEED_ROLESのロールを割り当てる"},
	{CommandSetPassword, "<username> 標準入力のパスワードでダイジェストを再設定する"},
	{CommandHealthcheck, "ローカルの/healthを確認する"},
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	for _, c := range commands {
		if string(c.cmd) == args[0] {
			return c.cmd
		}
	}
	return CommandServe
}

// Usage はサブコマンドの一覧をwに出力する。
func Usage(w io.Writer) {
	fmt.Fprintln(w, "usage: scmxpertlite [command]")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.cmd, c.desc)
	}
}
