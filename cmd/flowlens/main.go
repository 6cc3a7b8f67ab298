package main

import (
	"os"

	"github.com/flowlens/flowlens/cmd/flowlens/cmd"
)

// Version information, set by the release build.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cmd.SetVersion(version, commit)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
