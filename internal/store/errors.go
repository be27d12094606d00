package store

import "errors"

var (
	ErrNotFound          = errors.New("row not found")
	ErrUnsupportedEntity = errors.New("unsupported entity")
)
