package main

import (
	"fmt"
	"os"

	"github.com/edgenet/edgenet/cmd/edgenet/commands"
	"github.com/edgenet/edgenet/internal/cli/prompt"
)

func main() {
	if err := commands.Execute(); err != nil {
		if prompt.IsAborted(err) {
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
