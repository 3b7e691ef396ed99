// rescale-sftp - SFTP file manager CLI and JSON engine for Rescale desktop clients
package main

import (
	"os"

	"github.com/rescale/rescale-sftp/internal/cli"
	"github.com/rescale/rescale-sftp/internal/version"
)

// Set by ldflags: -X main.Version=... -X main.BuildTime=...
var (
	Version   = ""
	BuildTime = ""
)

func main() {
	if Version != "" {
		version.Version = Version
	}
	if BuildTime != "" {
		version.BuildTime = BuildTime
	}

	// cobra has already printed the error
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
