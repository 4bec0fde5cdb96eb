// Copyright 2025 Mech Services, Inc.
package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobMarshalRoundTrip(t *testing.T) {
	j := &Job{
		ID:     "abc",
		Queue:  "email",
		Name:   "send-email",
		Data:   []byte(`{"to":"u@x"}`),
		Status: StatusWaiting,
		Options: Options{
			Attempts: 3,
			Backoff:  Backoff{Type: BackoffExponential, Delay: 1000},
		},
		Metadata:  Metadata{ApplicationID: "app-1"},
		CreatedAt: time.Now().UTC(),
	}
	s, err := j.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalJob(s)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, j.Queue, got.Queue)
	assert.JSONEq(t, `{"to":"u@x"}`, string(got.Data))
	assert.Equal(t, "app-1", got.Metadata.ApplicationID)
}

func TestNextBackoffExponential(t *testing.T) {
	j := &Job{Options: Options{Backoff: Backoff{Type: BackoffExponential, Delay: 1000}}}

	j.AttemptsMade = 1
	assert.Equal(t, time.Second, j.NextBackoff())
	j.AttemptsMade = 2
	assert.Equal(t, 2*time.Second, j.NextBackoff())
	j.AttemptsMade = 3
	assert.Equal(t, 4*time.Second, j.NextBackoff())
}

func TestNextBackoffFixed(t *testing.T) {
	j := &Job{Options: Options{Backoff: Backoff{Type: BackoffFixed, Delay: 250}}}
	for attempts := 1; attempts <= 4; attempts++ {
		j.AttemptsMade = attempts
		assert.Equal(t, 250*time.Millisecond, j.NextBackoff())
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusRemoved.Terminal())
	assert.False(t, StatusWaiting.Terminal())
	assert.False(t, StatusActive.Terminal())
	assert.False(t, StatusDelayed.Terminal())
}
