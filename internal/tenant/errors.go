// Copyright 2025 Mech Services, Inc.
package tenant

import "errors"

var (
	ErrMissingAPIKey     = errors.New("missing api key")
	ErrInvalidAPIKey     = errors.New("invalid api key")
	ErrQueueAccessDenied = errors.New("queue access denied")
	ErrAppNotFound       = errors.New("application not found")
	ErrAppExists         = errors.New("application already exists")
	ErrNotMaster         = errors.New("operation requires the master identity")
)
