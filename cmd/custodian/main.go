package main

import (
	"os"

	"github.com/pmorton/custodian/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
