package main

import (
	"os"

	"github.com/go-delve/heapview/cmd/heapview/cmds"
	"github.com/go-delve/heapview/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.HeapviewVersion.Build = Build
	}
	if err := cmds.New(false).Execute(); err != nil {
		os.Exit(1)
	}
}
