// Copyright 2025 Mech Services, Inc.
package handlers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dundas/mech-queue/internal/queue"
	"github.com/dundas/mech-queue/internal/worker"
	"github.com/google/uuid"
)

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body,omitempty"`
	HTML    string `json:"html,omitempty"`
	From    string `json:"from,omitempty"`
}

// Email validates the message fields and hands off to the configured sender.
// The default sender is a stub that fabricates a message id; wiring a real
// provider means swapping the Sender.
type Email struct {
	Sender EmailSender
}

// EmailSender is the provider boundary.
type EmailSender interface {
	Send(ctx *worker.Context, to, subject, body, html string) (messageID string, err error)
}

type stubSender struct{}

func (stubSender) Send(_ *worker.Context, _, _, _, _ string) (string, error) {
	return "msg-" + uuid.New().String(), nil
}

func NewEmail() *Email { return &Email{Sender: stubSender{}} }

func (h *Email) Name() string { return "email" }

func (h *Email) Process(ctx *worker.Context, job *queue.Job) (*worker.Result, error) {
	var p emailPayload
	if err := json.Unmarshal(job.Data, &p); err != nil {
		return &worker.Result{Success: false, Message: fmt.Sprintf("invalid email payload: %v", err)}, nil
	}
	var missing []string
	if p.To == "" {
		missing = append(missing, "to")
	}
	if p.Subject == "" {
		missing = append(missing, "subject")
	}
	if p.Body == "" && p.HTML == "" {
		missing = append(missing, "body|html")
	}
	if len(missing) > 0 {
		return &worker.Result{
			Success: false,
			Message: "missing required fields: " + strings.Join(missing, ", "),
		}, nil
	}

	_ = ctx.ReportProgress(50)
	id, err := h.Sender.Send(ctx, p.To, p.Subject, p.Body, p.HTML)
	if err != nil {
		return nil, fmt.Errorf("send email: %w", err)
	}
	return worker.OK(map[string]interface{}{"messageId": id, "to": p.To}), nil
}
