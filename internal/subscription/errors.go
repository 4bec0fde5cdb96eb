// Copyright 2025 Mech Services, Inc.
package subscription

import "errors"

var (
	ErrNotFound            = errors.New("subscription not found")
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrNotOwner            = errors.New("subscription belongs to a different application")
)
