package patch

import (
	"errors"
	"fmt"
)

var (
	// ErrTargetNotFound: the identity matched zero elements in the
	// compiled document.
	ErrTargetNotFound = errors.New("target not found")
	// ErrAmbiguousTarget: the identity matched more than one element.
	// The builder refuses to guess.
	ErrAmbiguousTarget = errors.New("ambiguous target")
)

// TargetError carries the offending target and how many elements it
// matched.
type TargetError struct {
	Target  Target
	Matches int
}

func (e *TargetError) Error() string {
	if e.Matches == 0 {
		return fmt.Sprintf("target %s not found in document", e.Target)
	}
	return fmt.Sprintf("target %s matches %d elements, refusing to guess", e.Target, e.Matches)
}

func (e *TargetError) Unwrap() error {
	if e.Matches == 0 {
		return ErrTargetNotFound
	}
	return ErrAmbiguousTarget
}
