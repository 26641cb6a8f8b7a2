package repository

import "errors"

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyTerminal is returned when an artifact has already left pending
	ErrAlreadyTerminal = errors.New("artifact already in a terminal state")
)
