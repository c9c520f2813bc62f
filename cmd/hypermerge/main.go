package main

import (
	"os"

	"github.com/geoffreylitt/hypermerge/internal/cli"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, date)
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
