package main

import (
	"fmt"
	"os"

	"fishfry/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fishfry: %v\n", err)
		os.Exit(1)
	}
}
