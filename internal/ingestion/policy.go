package ingestion

import "fmt"

// Policy decides what the upload loop does after a file fails.
type Policy string

const (
	// FailFast stops at the first failed upload.
	FailFast Policy = "fail-fast"
	// ContinueOnError attempts every file and reports all failures together.
	ContinueOnError Policy = "continue-on-error"
)

// ParsePolicy converts a configuration value into a Policy.
// An empty value selects FailFast.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", FailFast:
		return FailFast, nil
	case ContinueOnError:
		return ContinueOnError, nil
	default:
		return "", fmt.Errorf("unknown upload policy %q (want %s or %s)", s, FailFast, ContinueOnError)
	}
}
