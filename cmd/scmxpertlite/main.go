// Command scmxpertlite はSCMXpertLiteのバックエンドを起動する。
//
//	scmxpertlite [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/scmxpert/scmxpertlite/internal/app"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help" || os.Args[1] == "help") {
		app.Usage(os.Stdout)
		return
	}

	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
