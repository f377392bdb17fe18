package main

import (
	"os"

	"github.com/tundralabs/tundra/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
