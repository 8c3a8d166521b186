package main

import (
	"os"

	"github.com/pilab-dev/oauthdirac/cmd/oauthctl/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
