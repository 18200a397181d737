// Command soundmesh is the CLI entrypoint: it loads a board wiring config
// and runs the DAG until interrupted.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
