package main

import (
	"os"

	"github.com/ggoodman/mcp-toolhost/cmd/mcp-toolhost/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
