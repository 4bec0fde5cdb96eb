// Copyright 2025 Mech Services, Inc.
package tenant

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/dundas/mech-queue/internal/obs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry maps API keys to application records. Reads go through a
// process-wide cache under a read lock; mutations write through the store
// and refresh the cache under the write lock.
type Registry struct {
	store         Store
	masterKeyHash string
	log           *zap.Logger

	mu     sync.RWMutex
	byHash map[string]*Application
}

func NewRegistry(store Store, masterAPIKey string, log *zap.Logger) *Registry {
	r := &Registry{
		store:  store,
		log:    log,
		byHash: make(map[string]*Application),
	}
	if masterAPIKey != "" {
		r.masterKeyHash = HashAPIKey(masterAPIKey)
	}
	return r
}

// Warm loads every stored application into the cache. Call at startup;
// failures are not fatal, lookups fall through to the store.
func (r *Registry) Warm(ctx context.Context) error {
	apps, err := r.store.List(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, app := range apps {
		r.byHash[app.APIKeyHash] = app
	}
	r.log.Info("tenant cache warmed", obs.Int("applications", len(apps)))
	return nil
}

// Authenticate resolves an API key to an application. The empty key yields
// ErrMissingAPIKey, an unknown one ErrInvalidAPIKey. Hash comparison is
// constant-time.
func (r *Registry) Authenticate(ctx context.Context, apiKey string) (*Application, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	hash := HashAPIKey(apiKey)

	if r.masterKeyHash != "" &&
		subtle.ConstantTimeCompare([]byte(hash), []byte(r.masterKeyHash)) == 1 {
		return MasterApplication(), nil
	}

	r.mu.RLock()
	app, ok := r.byHash[hash]
	r.mu.RUnlock()
	if ok {
		return app, nil
	}

	app, err := r.store.GetByKeyHash(ctx, hash)
	if err == ErrAppNotFound {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.byHash[hash] = app
	r.mu.Unlock()
	return app, nil
}

// Authorize checks the allowed-queue policy of an authenticated application.
func (r *Registry) Authorize(app *Application, queueName string) error {
	if app.AllowsQueue(queueName) {
		return nil
	}
	return ErrQueueAccessDenied
}

// CreateRequest is the master-only application creation payload.
type CreateRequest struct {
	Name     string   `json:"name"`
	Settings Settings `json:"settings"`
}

// Create registers a new application and returns it along with the
// generated plaintext API key — the only time the key is visible.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*Application, string, error) {
	key := NewAPIKey()
	now := time.Now().UTC()
	app := &Application{
		ID:         uuid.New().String(),
		Name:       req.Name,
		APIKeyHash: HashAPIKey(key),
		Settings:   req.Settings,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if len(app.Settings.AllowedQueues) == 0 {
		app.Settings.AllowedQueues = []string{"*"}
	}
	if err := r.store.Insert(ctx, app); err != nil {
		return nil, "", err
	}
	r.mu.Lock()
	r.byHash[app.APIKeyHash] = app
	r.mu.Unlock()
	r.log.Info("application created", obs.String("id", app.ID), obs.String("name", app.Name))
	return app, key, nil
}

// Get loads one application by id.
func (r *Registry) Get(ctx context.Context, id string) (*Application, error) {
	return r.store.Get(ctx, id)
}

// List returns every application.
func (r *Registry) List(ctx context.Context) ([]*Application, error) {
	return r.store.List(ctx)
}

// UpdateSettings patches an application's settings.
func (r *Registry) UpdateSettings(ctx context.Context, id string, settings Settings) (*Application, error) {
	app, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	app.Settings = settings
	app.UpdatedAt = time.Now().UTC()
	if err := r.store.Update(ctx, app); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.byHash[app.APIKeyHash] = app
	r.mu.Unlock()
	return app, nil
}

// Delete removes an application and evicts it from the cache.
func (r *Registry) Delete(ctx context.Context, id string) error {
	app, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.byHash, app.APIKeyHash)
	r.mu.Unlock()
	r.log.Info("application deleted", obs.String("id", id))
	return nil
}

// CanAccessJob enforces job ownership: non-master identities only see jobs
// they submitted.
func (r *Registry) CanAccessJob(app *Application, jobApplicationID string) bool {
	if app.IsMaster() {
		return true
	}
	return app.ID == jobApplicationID
}
