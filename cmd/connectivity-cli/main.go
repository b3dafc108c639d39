package main

import (
	"os"

	"github.com/malbeclabs/connectivity-metrics/internal/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
