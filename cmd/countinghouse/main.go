package main

import (
	"os"

	"github.com/hollis/countinghouse/internal/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
