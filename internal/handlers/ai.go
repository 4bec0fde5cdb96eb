// Copyright 2025 Mech Services, Inc.
package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/dundas/mech-queue/internal/queue"
	"github.com/dundas/mech-queue/internal/worker"
	"github.com/google/uuid"
)

var aiTaskTypes = map[string]bool{
	"completion":       true,
	"embedding":        true,
	"moderation":       true,
	"image-generation": true,
}

type aiPayload struct {
	Type   string          `json:"type"`
	Model  string          `json:"model,omitempty"`
	Prompt string          `json:"prompt,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
}

// AIProcessing validates the task envelope and dispatches to the configured
// provider. The default provider simulates a response; the real model call
// lives behind the Provider boundary.
type AIProcessing struct {
	Provider AIProvider
}

// AIProvider is the model-call boundary.
type AIProvider interface {
	Run(ctx *worker.Context, taskType, model, prompt string, input json.RawMessage) (map[string]interface{}, error)
}

type stubProvider struct{}

func (stubProvider) Run(_ *worker.Context, taskType, model, _ string, _ json.RawMessage) (map[string]interface{}, error) {
	return map[string]interface{}{
		"taskId": "ai-" + uuid.New().String(),
		"type":   taskType,
		"model":  model,
	}, nil
}

func NewAIProcessing() *AIProcessing { return &AIProcessing{Provider: stubProvider{}} }

func (h *AIProcessing) Name() string { return "ai-processing" }

func (h *AIProcessing) Process(ctx *worker.Context, job *queue.Job) (*worker.Result, error) {
	var p aiPayload
	if err := json.Unmarshal(job.Data, &p); err != nil {
		return &worker.Result{Success: false, Message: fmt.Sprintf("invalid ai payload: %v", err)}, nil
	}
	if !aiTaskTypes[p.Type] {
		return &worker.Result{
			Success: false,
			Message: fmt.Sprintf("unknown ai task type %q", p.Type),
		}, nil
	}

	_ = ctx.ReportProgress(25)
	out, err := h.Provider.Run(ctx, p.Type, p.Model, p.Prompt, p.Input)
	if err != nil {
		return nil, fmt.Errorf("ai provider: %w", err)
	}
	return worker.OK(out), nil
}
