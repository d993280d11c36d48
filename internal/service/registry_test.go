package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rustshop-api/internal/model"
	"rustshop-api/internal/repository"
)

func newTestShopStore(t *testing.T) *repository.ShopStore {
	t.Helper()

	store, err := repository.NewShopStore(filepath.Join(t.TempDir(), "shop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestAuthenticateGlobalKey(t *testing.T) {
	registry := NewRegistryService(newTestShopStore(t), "global-secret")
	ctx := context.Background()

	scope, err := registry.Authenticate(ctx, "global-secret")
	require.NoError(t, err)
	assert.Nil(t, scope.ServerID, "global key is unscoped")
	assert.Nil(t, scope.Server)

	_, err = registry.Authenticate(ctx, "wrong-key")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	// With a global key configured, an empty credential is a hard failure,
	// never an empty result.
	_, err = registry.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestAuthenticateOpenMode(t *testing.T) {
	registry := NewRegistryService(newTestShopStore(t), "")

	scope, err := registry.Authenticate(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, scope.ServerID)
}

func TestAuthenticatePerServerKey(t *testing.T) {
	store := newTestShopStore(t)
	registry := NewRegistryService(store, "global-secret")
	ctx := context.Background()

	server, err := registry.Register(ctx, &model.Server{Name: "Main x5"})
	require.NoError(t, err)
	require.NotEmpty(t, server.APIKey)

	scope, err := registry.Authenticate(ctx, server.APIKey)
	require.NoError(t, err)
	require.NotNil(t, scope.ServerID)
	assert.Equal(t, server.ID, *scope.ServerID)
	require.NotNil(t, scope.Server)
	assert.Equal(t, "Main x5", scope.Server.Name)
}

func TestHeartbeatRequiresPerServerKey(t *testing.T) {
	store := newTestShopStore(t)
	registry := NewRegistryService(store, "global-secret")
	ctx := context.Background()

	server, err := registry.Register(ctx, &model.Server{Name: "Main x5", MaxPlayers: 200, MapName: "procedural"})
	require.NoError(t, err)

	// The global key has no server row to update.
	_, err = registry.Heartbeat(ctx, "global-secret", 10, 0, "")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	_, err = registry.Heartbeat(ctx, "", 10, 0, "")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	got, err := registry.Heartbeat(ctx, server.APIKey, 42, 0, "")
	require.NoError(t, err)
	assert.Equal(t, 42, got.CurrentPlayers)
	assert.Equal(t, 200, got.MaxPlayers, "zero max_players keeps the stored capacity")
	assert.Equal(t, "procedural", got.MapName)
	require.NotNil(t, got.LastSeenAt)

	persisted, err := registry.Get(ctx, server.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, persisted.CurrentPlayers)
	assert.NotNil(t, persisted.LastSeenAt)
}
