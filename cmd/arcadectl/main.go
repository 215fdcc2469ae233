package main

import (
	"os"

	"github.com/mweller/arcadecrm/cmd/arcadectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
