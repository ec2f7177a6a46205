package local

import "errors"

var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("not found")

	// ErrFinished is returned when a unit of work is used after Commit or Rollback
	ErrFinished = errors.New("unit of work already finished")
)
