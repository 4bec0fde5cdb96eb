// Copyright 2025 Mech Services, Inc.
package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(NewMemoryStore(), "master-key", zap.NewNop())
}

func TestAuthenticateMissingKey(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestAuthenticateUnknownKey(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Authenticate(context.Background(), "sk_nope")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestAuthenticateMasterKey(t *testing.T) {
	r := newRegistry(t)
	app, err := r.Authenticate(context.Background(), "master-key")
	require.NoError(t, err)
	assert.True(t, app.IsMaster())
	assert.True(t, app.AllowsQueue("anything"))
}

func TestCreateAndAuthenticate(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	app, key, err := r.Create(ctx, CreateRequest{
		Name:     "billing",
		Settings: Settings{AllowedQueues: []string{"email", "webhook"}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, key)
	assert.NotContains(t, key, app.APIKeyHash)

	got, err := r.Authenticate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, app.ID, got.ID)
	assert.False(t, got.IsMaster())
}

func TestAuthorizeAllowedQueues(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	app, _, err := r.Create(ctx, CreateRequest{
		Name:     "billing",
		Settings: Settings{AllowedQueues: []string{"email", "report-*"}},
	})
	require.NoError(t, err)

	assert.NoError(t, r.Authorize(app, "email"))
	assert.NoError(t, r.Authorize(app, "report-daily"))
	assert.ErrorIs(t, r.Authorize(app, "payments"), ErrQueueAccessDenied)
}

func TestWildcardAllowsEverything(t *testing.T) {
	r := newRegistry(t)
	app, _, err := r.Create(context.Background(), CreateRequest{Name: "ops"})
	require.NoError(t, err)
	assert.NoError(t, r.Authorize(app, "anything-at-all"))
}

func TestUpdateSettingsRefreshesCache(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	app, key, err := r.Create(ctx, CreateRequest{
		Name:     "a",
		Settings: Settings{AllowedQueues: []string{"email"}},
	})
	require.NoError(t, err)

	_, err = r.UpdateSettings(ctx, app.ID, Settings{AllowedQueues: []string{"webhook"}})
	require.NoError(t, err)

	got, err := r.Authenticate(ctx, key)
	require.NoError(t, err)
	assert.ErrorIs(t, r.Authorize(got, "email"), ErrQueueAccessDenied)
	assert.NoError(t, r.Authorize(got, "webhook"))
}

func TestDeleteRevokesKey(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	app, key, err := r.Create(ctx, CreateRequest{Name: "a"})
	require.NoError(t, err)
	require.NoError(t, r.Delete(ctx, app.ID))

	_, err = r.Authenticate(ctx, key)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestCanAccessJob(t *testing.T) {
	r := newRegistry(t)
	app, _, err := r.Create(context.Background(), CreateRequest{Name: "a"})
	require.NoError(t, err)

	assert.True(t, r.CanAccessJob(app, app.ID))
	assert.False(t, r.CanAccessJob(app, "someone-else"))
	assert.True(t, r.CanAccessJob(MasterApplication(), "someone-else"))
}

func TestHashAPIKeyDeterministic(t *testing.T) {
	assert.Equal(t, HashAPIKey("k"), HashAPIKey("k"))
	assert.NotEqual(t, HashAPIKey("k"), HashAPIKey("k2"))
}
