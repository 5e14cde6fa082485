package main

import (
	"os"

	"github.com/go-delve/sgxdbg/cmd/sgxdbg/cmds"
	"github.com/go-delve/sgxdbg/pkg/version"
	"github.com/sirupsen/logrus"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.SgxdbgVersion.Build = Build
	}
	root, err := cmds.New()
	if err != nil {
		logrus.WithFields(logrus.Fields{"layer": "sgxdbg"}).Error(err)
		os.Exit(1)
	}
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
