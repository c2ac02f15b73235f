// Package cli holds loomctl's process-exit conventions, shared by every subcommand.
package cli

import (
	"log"
	"os"

	"github.com/loomforge/loomforge/common/gerror"
)

var Stderr = log.New(os.Stderr, "", 0)
var Stdout = log.New(os.Stdout, "", 0)

// Exit codes for a `run` invocation: 0 succeeded, 1 failed, 2 cancelled, 3 validation error.
// Other subcommands exit through Exit, so they use 0, 1, or 3 (never 2).
const (
	ExitSucceeded      = 0
	ExitFailed         = 1
	ExitCancelled      = 2
	ExitValidationFail = 3
)

// Exit reports err to stderr (if non-nil) and terminates the process. A validation failure
// exits 3; any other error exits 1; nil exits 0.
func Exit(err error) {
	if err == nil {
		os.Exit(ExitSucceeded)
	}
	Stderr.Println(err)
	if gerror.IsValidationFailed(err) {
		os.Exit(ExitValidationFail)
	}
	os.Exit(ExitFailed)
}
