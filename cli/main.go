package main

import (
	"os"

	"github.com/reconhawk/reconhawk-stack/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
