package main

import (
	"os"

	"github.com/TheusHen/keyrelay/cmd/keyrelay/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
