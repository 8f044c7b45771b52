package main

import (
	"fmt"
	"os"

	"github.com/lemonade-sdk/lemonade-server/cmd/lemonade-server/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
