package testutil

import (
	"io"
	"os"
	"slices"

	"github.com/sirupsen/logrus"
)

// Package tests log at trace level. Output is kept only for verbose runs,
// where adapter and registry debug lines help when inspecting a failure.
func init() {
	logrus.SetLevel(logrus.TraceLevel)

	if !slices.Contains(os.Args[1:], "-test.v=true") {
		logrus.StandardLogger().SetOutput(io.Discard)
	}
}
