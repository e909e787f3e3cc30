package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/lostfound/internal/app"
)

func main() {
	// 構造化ログは標準エラー出力へ。標準出力はコマンドの結果に使う。
	if err := app.Run(os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
