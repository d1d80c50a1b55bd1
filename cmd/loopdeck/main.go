package main

import (
	"os"

	"github.com/loopdeck/loopdeck/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
