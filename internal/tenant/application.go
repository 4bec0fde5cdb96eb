// Copyright 2025 Mech Services, Inc.
package tenant

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
)

// MasterApplicationID identifies the configured master identity.
const MasterApplicationID = "master"

// Settings are the per-application policy knobs.
type Settings struct {
	AllowedQueues     []string          `json:"allowedQueues" bson:"allowedQueues"`
	MaxConcurrentJobs int               `json:"maxConcurrentJobs,omitempty" bson:"maxConcurrentJobs,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// Application is an authenticated tenant. The API key itself is only held in
// memory at creation time; the store keeps a SHA-256 digest and lookups
// compare digests, so a leaked database does not leak keys.
type Application struct {
	ID         string    `json:"id" bson:"_id"`
	Name       string    `json:"name" bson:"name"`
	APIKeyHash string    `json:"-" bson:"apiKeyHash"`
	Settings   Settings  `json:"settings" bson:"settings"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt" bson:"updatedAt"`
}

// IsMaster reports whether this identity has global rights.
func (a *Application) IsMaster() bool { return a.ID == MasterApplicationID }

// AllowsQueue evaluates the allowed-queue policy. Patterns support glob
// syntax; a single "*" grants everything.
func (a *Application) AllowsQueue(queueName string) bool {
	if a.IsMaster() {
		return true
	}
	for _, pat := range a.Settings.AllowedQueues {
		if pat == "*" {
			return true
		}
		if ok, err := doublestar.Match(pat, queueName); err == nil && ok {
			return true
		}
	}
	return false
}

// NewAPIKey generates a fresh application key.
func NewAPIKey() string {
	return "sk_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// HashAPIKey digests a key for storage and lookup.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// MasterApplication builds the synthetic identity for the configured master
// key. It is never persisted.
func MasterApplication() *Application {
	return &Application{
		ID:       MasterApplicationID,
		Name:     "master",
		Settings: Settings{AllowedQueues: []string{"*"}},
	}
}
