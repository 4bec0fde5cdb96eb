// Copyright 2025 Mech Services, Inc.
package schedule

import "errors"

var (
	ErrNotFound        = errors.New("schedule not found")
	ErrInvalidSchedule = errors.New("invalid schedule")
)
