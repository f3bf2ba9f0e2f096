package main

import (
	"os"

	"numtrack/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
