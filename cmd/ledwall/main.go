package main

import (
	"os"

	"github.com/coreman2200/ledwall/cmd/ledwall/commands"
)

var version = "dev"

func main() {
	commands.SetVersion(version)
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
