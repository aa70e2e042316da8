package main

import (
	"os"

	"ndnrepo/cmd/repoctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
