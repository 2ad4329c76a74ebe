package main

import (
	"os"

	"github.com/skeinhq/skein/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
