// Copyright 2025 Mech Services, Inc.
package queue

import "errors"

var (
	ErrQueueNotFound = errors.New("queue not found")
	ErrJobNotFound   = errors.New("job not found")
	ErrJobTerminal   = errors.New("job already in a terminal state")
	ErrJobWrongQueue = errors.New("job belongs to a different queue")
)
