package main

import (
	"os"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"
)

// TestMain lets the testscript-driven scripts below invoke the CLI as a
// real subprocess ("fixscript ...") without a separate go build step:
// RunMain re-execs this test binary with the command's argv, routing into
// run() instead of the test runner.
func TestMain(m *testing.M) {
	os.Exit(testscript.RunMain(m, map[string]func() int{
		"fixscript": run,
	}))
}

func TestScripts(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir: "testdata/scripts",
	})
}
