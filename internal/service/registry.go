package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"rustshop-api/internal/model"
	"rustshop-api/internal/repository"
	"rustshop-api/pkg/uid"
)

// ErrInvalidCredential is returned for a wrong or missing protocol
// credential. Never mapped to an empty result: silently returning nothing on
// a bad key would mask misconfiguration.
var ErrInvalidCredential = errors.New("invalid API credential")

// Scope is the queue visibility a resolved credential grants. A nil ServerID
// means unscoped: the caller sees every entry regardless of server binding.
type Scope struct {
	ServerID *string
	Server   *model.Server // set only for per-server credentials
}

// RegistryService maps credentials to server identities and records
// liveness telemetry.
type RegistryService struct {
	servers   repository.ServerRepository
	globalKey string
}

// NewRegistryService creates a new server registry.
// globalKey is the legacy all-servers credential; empty disables it.
func NewRegistryService(servers repository.ServerRepository, globalKey string) *RegistryService {
	return &RegistryService{servers: servers, globalKey: globalKey}
}

// Authenticate resolves a protocol credential into a visibility scope.
//
// Resolution order: the global key grants unscoped access; a per-server key
// grants access scoped to that server plus unscoped entries; no key at all
// is allowed only when no global key is configured (open deployments on a
// private network).
func (s *RegistryService) Authenticate(ctx context.Context, credential string) (*Scope, error) {
	if credential == "" {
		if s.globalKey != "" {
			return nil, ErrInvalidCredential
		}
		return &Scope{}, nil
	}

	if s.globalKey != "" && credential == s.globalKey {
		return &Scope{}, nil
	}

	server, err := s.servers.GetServerByAPIKey(ctx, credential)
	if err != nil {
		if errors.Is(err, repository.ErrServerNotFound) {
			return nil, ErrInvalidCredential
		}
		return nil, fmt.Errorf("resolve credential: %w", err)
	}

	return &Scope{ServerID: &server.ID, Server: server}, nil
}

// Heartbeat records player count, capacity and map for the server owning the
// credential. Heartbeat always requires a per-server key; the global key has
// no server row to update.
func (s *RegistryService) Heartbeat(ctx context.Context, credential string, currentPlayers, maxPlayers int, mapName string) (*model.Server, error) {
	if credential == "" {
		return nil, ErrInvalidCredential
	}

	server, err := s.servers.GetServerByAPIKey(ctx, credential)
	if err != nil {
		if errors.Is(err, repository.ErrServerNotFound) {
			return nil, ErrInvalidCredential
		}
		return nil, fmt.Errorf("resolve credential: %w", err)
	}

	if maxPlayers <= 0 {
		maxPlayers = server.MaxPlayers
	}
	if mapName == "" {
		mapName = server.MapName
	}

	now := time.Now().UTC()
	if err := s.servers.Heartbeat(ctx, server.ID, currentPlayers, maxPlayers, mapName, now); err != nil {
		return nil, fmt.Errorf("record heartbeat: %w", err)
	}

	server.CurrentPlayers = currentPlayers
	server.MaxPlayers = maxPlayers
	server.MapName = mapName
	server.LastSeenAt = &now

	return server, nil
}

// List returns registered servers, optionally filtered by region.
func (s *RegistryService) List(ctx context.Context, region string) ([]model.Server, error) {
	return s.servers.ListServers(ctx, region)
}

// Register creates a server with a freshly generated credential.
func (s *RegistryService) Register(ctx context.Context, server *model.Server) (*model.Server, error) {
	if server.ID == "" {
		server.ID = uid.New()
	}
	if server.APIKey == "" {
		server.APIKey = uid.APIKey()
	}

	if err := s.servers.CreateServer(ctx, server); err != nil {
		return nil, fmt.Errorf("register server: %w", err)
	}

	log.Printf("[RegistryService] Registered server id=%s name=%q", server.ID, server.Name)
	return server, nil
}

// Update updates server metadata.
func (s *RegistryService) Update(ctx context.Context, server *model.Server) error {
	return s.servers.UpdateServer(ctx, server)
}

// Remove deletes a server registration.
func (s *RegistryService) Remove(ctx context.Context, id string) error {
	return s.servers.DeleteServer(ctx, id)
}

// Get returns one server by id.
func (s *RegistryService) Get(ctx context.Context, id string) (*model.Server, error) {
	return s.servers.GetServer(ctx, id)
}
