// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestReport(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantOutput string
	}{
		{"plain", errors.New("agent not running"), 1, "error: agent not running\n"},
		{"exit code", &ExitError{Code: 2, Err: errors.New("missing hostname")}, 2, "error: missing hostname\n"},
		{"wrapped exit code", fmt.Errorf("ssh: %w", &ExitError{Code: 3, Err: errors.New("denied")}), 3, "error: ssh: denied\n"},
		{"silent", &ExitError{Code: 1}, 1, ""},
	}
	for _, test := range tests {
		var output bytes.Buffer
		if code := report(&output, test.err); code != test.wantCode {
			t.Errorf("%s: code = %d, want %d", test.name, code, test.wantCode)
		}
		if output.String() != test.wantOutput {
			t.Errorf("%s: output = %q, want %q", test.name, output.String(), test.wantOutput)
		}
	}
}
