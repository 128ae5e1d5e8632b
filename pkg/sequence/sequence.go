// Package sequence formats human readable identifiers backed by per-prefix counters.
package sequence

import (
	"fmt"
	"strconv"
	"strings"
)

// Well known prefixes.
const (
	PrefixApplication = "INS"
	PrefixStudent     = "ALU"
)

// Format renders PREFIX-NNNNNN with six digit zero padding. Larger numbers print in full.
func Format(prefix string, n int64) string {
	return fmt.Sprintf("%s-%06d", prefix, n)
}

// Parse extracts the numeric suffix of an identifier produced by Format.
func Parse(prefix, value string) (int64, error) {
	rest, ok := strings.CutPrefix(value, prefix+"-")
	if !ok || rest == "" {
		return 0, fmt.Errorf("identifier %q does not start with %s-", value, prefix)
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("identifier %q has invalid numeric suffix", value)
	}
	return n, nil
}
