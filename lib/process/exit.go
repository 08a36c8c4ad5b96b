// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ExitError carries a specific exit status out of run(). The CLI uses
// it to propagate a remote session's failure as status 1 and a usage
// mistake as status 2 without printing twice.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Fatal writes "error: err" to stderr and exits. The status is taken
// from an *ExitError in err's chain, and is 1 otherwise.
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

// report writes err to w and returns the exit status for it.
func report(w io.Writer, err error) int {
	code := 1
	var exitError *ExitError
	if errors.As(err, &exitError) {
		code = exitError.Code
		if exitError.Err == nil {
			return code
		}
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return code
}
