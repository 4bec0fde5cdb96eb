// Copyright 2025 Mech Services, Inc.
package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dundas/mech-queue/internal/config"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// AuditLogger appends administrative mutations (application CRUD, queue
// pause/resume/clean) to a rotating JSONL file.
type AuditLogger struct {
	mu  sync.Mutex
	out *lumberjack.Logger
}

type auditEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Actor     string      `json:"actor"`
	Action    string      `json:"action"`
	Target    string      `json:"target"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func NewAuditLogger(cfg config.Audit) *AuditLogger {
	if !cfg.Enabled {
		return nil
	}
	return &AuditLogger{out: &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   true,
	}}
}

// Record writes one entry. A nil logger is a no-op so call sites stay clean.
func (a *AuditLogger) Record(actor, action, target, requestID string, details interface{}) {
	if a == nil {
		return
	}
	entry := auditEntry{
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Action:    action,
		Target:    target,
		RequestID: requestID,
		Details:   details,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = a.out.Write(append(line, '\n'))
}

func (a *AuditLogger) Close() {
	if a == nil {
		return
	}
	_ = a.out.Close()
}
