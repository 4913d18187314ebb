package analyzer

import (
	"errors"
	"fmt"
)

// ErrInitialization is returned when the index or catalog cannot be
// prepared. It aborts startup.
var ErrInitialization = errors.New("unable to initialize the CPE analyzer")

// AnalysisError is a failure that aborts identification of a single
// dependency. Other dependencies are unaffected.
type AnalysisError struct {
	Dependency string
	Err        error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analyzing %s: %v", e.Dependency, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }
