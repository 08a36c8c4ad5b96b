// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestLevenshtein(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"abc", "ab", 1},
		{"ab", "abc", 1},
		{"abc", "bac", 2},
		{"kitten", "sitting", 3},
		{"assets", "asests", 2},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
		if reverse := levenshtein(test.b, test.a); reverse != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, not symmetric", test.b, test.a, reverse)
		}
	}
}

func TestSuggestFlag(t *testing.T) {
	t.Parallel()
	flagSet := pflag.NewFlagSet("connect-session", pflag.ContinueOnError)
	flagSet.String("session-id", "", "")
	flagSet.String("csrf-token", "", "")
	flagSet.BoolP("verbose", "v", false, "")

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--sesion-id", "x"}, "--session-id"},
		{[]string{"--csrf-token=a", "--csrf-tokn=b"}, "--csrf-token"},
		{[]string{"-v", "--completely-unrelated"}, ""},
		{[]string{"--", "--sesion-id"}, ""},
	}
	for _, test := range tests {
		if got := suggestFlag(test.args, flagSet); got != test.want {
			t.Errorf("suggestFlag(%v) = %q, want %q", test.args, got, test.want)
		}
	}
}
