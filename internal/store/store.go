// Package store defines errors shared by trigger store backends.
// Consumers declare their own narrow interfaces; backends live in the
// file and postgres subpackages.
package store

import "errors"

var (
	ErrTriggerNotFound = errors.New("trigger not found")
	ErrDuplicateID     = errors.New("trigger id already exists")
	ErrClosed          = errors.New("store closed")
)
