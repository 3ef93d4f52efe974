package config

import (
	"fmt"
	"os"
)

// Process exit codes shared by command entry points.
const (
	// ExitFailure reports a generic fatal error.
	ExitFailure = 1
	// ExitVerificationFailed reports that startup verification of a backing
	// store failed and the process refused to serve.
	ExitVerificationFailed = 3
)

// Exitf writes a formatted error message to stderr and exits with code 1.
// It provides a consistent fatal-exit pattern for CLI entry points.
func Exitf(format string, args ...any) {
	ExitCodef(ExitFailure, format, args...)
}

// ExitCodef writes a formatted error message to stderr and exits with code.
// Codes below 1 are raised to ExitFailure so a fatal path never reports success.
func ExitCodef(code int, format string, args ...any) {
	if code < 1 {
		code = ExitFailure
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}
