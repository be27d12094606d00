package types

import (
	"errors"
	"fmt"
)

// ErrUnsupportedKind is matched by UnsupportedKindError. It signals a
// programming or configuration error and is never retried.
var ErrUnsupportedKind = errors.New("unsupported entity kind")

// UnsupportedKindError reports a content kind tag outside the known eight.
type UnsupportedKindError struct {
	Kind string
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnsupportedKind, e.Kind)
}

func (e *UnsupportedKindError) Is(target error) bool {
	return target == ErrUnsupportedKind
}
