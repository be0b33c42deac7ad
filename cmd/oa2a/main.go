package main

import (
	"os"

	"github.com/oa2a/oa2a/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
