package main

import (
	"os"

	"ledgermsg/go-node/cmd/ledgermsg/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
