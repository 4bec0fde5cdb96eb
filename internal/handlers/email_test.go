// Copyright 2025 Mech Services, Inc.
package handlers

import (
	"encoding/json"
	"testing"

	"github.com/dundas/mech-queue/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func zapNop() *zap.Logger { return zap.NewNop() }

func emailJob(t *testing.T, payload map[string]interface{}) *queue.Job {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{ID: "j1", Queue: "email", Name: "send-email", Data: data}
}

func TestEmailSendsWithMessageID(t *testing.T) {
	res, err := NewEmail().Process(handlerCtx(), emailJob(t, map[string]interface{}{
		"to":      "u@example.com",
		"subject": "hi",
		"body":    "hello",
	}))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Data["messageId"])
}

func TestEmailHTMLOnlyIsValid(t *testing.T) {
	res, err := NewEmail().Process(handlerCtx(), emailJob(t, map[string]interface{}{
		"to":      "u@example.com",
		"subject": "hi",
		"html":    "<b>hello</b>",
	}))
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestEmailMissingFields(t *testing.T) {
	res, err := NewEmail().Process(handlerCtx(), emailJob(t, map[string]interface{}{
		"subject": "hi",
	}))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "to")
	assert.Contains(t, res.Message, "body|html")
}

func TestAIProcessingValidatesType(t *testing.T) {
	res, err := NewAIProcessing().Process(handlerCtx(), emailJob(t, map[string]interface{}{
		"type":   "completion",
		"model":  "gpt-4",
		"prompt": "say hi",
	}))
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = NewAIProcessing().Process(handlerCtx(), emailJob(t, map[string]interface{}{
		"type": "mind-reading",
	}))
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestPlaceholderAccepts(t *testing.T) {
	h := NewPlaceholder("pdf-generation")
	assert.Equal(t, "pdf-generation", h.Name())

	res, err := h.Process(handlerCtx(), &queue.Job{ID: "j9", Queue: "pdf-generation"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "j9", res.Data["jobId"])
}
