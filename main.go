package main

import (
	"fmt"
	"os"

	"libsingleinstance/internal/cli"
)

var version = "1.0.0"

func main() {
	cli.SetVersion(version)
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
