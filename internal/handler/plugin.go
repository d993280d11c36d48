package handler

import (
	"errors"
	"net/http"

	"rustshop-api/internal/middleware"
	"rustshop-api/internal/model"
	"rustshop-api/internal/repository"
	"rustshop-api/internal/service"
	"rustshop-api/pkg/apierror"
	"rustshop-api/pkg/response"
)

// PluginHandler handles the game-server delivery protocol.
type PluginHandler struct {
	queue    *service.QueueService
	registry *service.RegistryService
}

// NewPluginHandler creates a new plugin handler.
func NewPluginHandler(queue *service.QueueService, registry *service.RegistryService) *PluginHandler {
	return &PluginHandler{
		queue:    queue,
		registry: registry,
	}
}

// Pending handles GET /api/plugin/pending?steam_id=
//
// Read-only discovery: returns the pending entries visible to the caller's
// scope without transitioning them. Plugins use this to decide whether a
// claim round is worth it.
func (h *PluginHandler) Pending(w http.ResponseWriter, r *http.Request) {
	steamID := r.URL.Query().Get("steam_id")
	if !validSteamID(steamID) {
		response.Error(w, apierror.BadRequest("steam_id must be a 17-digit SteamID64"))
		return
	}

	scope := middleware.GetScope(r.Context())
	var serverScope *string
	if scope != nil {
		serverScope = scope.ServerID
	}

	entries, err := h.queue.Discover(r.Context(), steamID, serverScope)
	if err != nil {
		response.Error(w, err)
		return
	}
	if entries == nil {
		entries = []model.CartEntry{}
	}

	response.List(w, entries, len(entries))
}

// ClaimRequest is the body of POST /api/plugin/claim.
type ClaimRequest struct {
	SteamID string `json:"steam_id"`
}

// Claim handles POST /api/plugin/claim
//
// Atomically moves the caller's visible pending set to delivering and
// returns exactly the entries this caller won. Two concurrent claims for
// the same player never both receive the same entry.
func (h *PluginHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	if !validSteamID(req.SteamID) {
		response.Error(w, apierror.BadRequest("steam_id must be a 17-digit SteamID64"))
		return
	}

	scope := middleware.GetScope(r.Context())
	var serverScope *string
	if scope != nil {
		serverScope = scope.ServerID
	}

	entries, err := h.queue.Claim(r.Context(), req.SteamID, serverScope)
	if err != nil {
		response.Error(w, err)
		return
	}
	if entries == nil {
		entries = []model.CartEntry{}
	}

	response.List(w, entries, len(entries))
}

// UpdateRequest is the body of POST /api/plugin/update.
type UpdateRequest struct {
	EntryID string `json:"entry_id"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// Update handles POST /api/plugin/update
//
// Acknowledges a claimed entry with its delivery outcome. "delivered" is
// terminal and idempotent; "failed" records the error and returns the
// entry to the queue for a later retry.
func (h *PluginHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	if req.EntryID == "" {
		response.Error(w, apierror.BadRequest("entry_id is required"))
		return
	}

	outcome, err := service.ParseOutcome(req.Status)
	if err != nil {
		response.Error(w, apierror.BadRequest(err.Error()))
		return
	}

	if err := h.queue.Acknowledge(r.Context(), req.EntryID, outcome, req.Error); err != nil {
		switch {
		case errors.Is(err, repository.ErrEntryNotFound):
			response.Error(w, apierror.NotFound("cart entry not found"))
		case errors.Is(err, repository.ErrInvalidTransition):
			response.Error(w, apierror.Conflict("entry is not in a claimable state"))
		default:
			response.Error(w, err)
		}
		return
	}

	response.OK(w, map[string]interface{}{
		"entry_id": req.EntryID,
		"status":   string(outcome),
	})
}

// HeartbeatRequest is the body of POST /api/plugin/heartbeat.
type HeartbeatRequest struct {
	APIKey         string `json:"api_key,omitempty"`
	CurrentPlayers int    `json:"current_players"`
	MaxPlayers     int    `json:"max_players,omitempty"`
	MapName        string `json:"map_name,omitempty"`
}

// Heartbeat handles POST /api/plugin/heartbeat
//
// Records liveness telemetry for the server identified by its per-server
// key. The key may come from the body for plugins that reuse one request
// builder, falling back to the transport credential.
func (h *PluginHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	key := req.APIKey
	if key == "" {
		key = r.Header.Get("X-API-Key")
	}
	if key == "" {
		key = r.URL.Query().Get("api_key")
	}

	server, err := h.registry.Heartbeat(r.Context(), key, req.CurrentPlayers, req.MaxPlayers, req.MapName)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredential) {
			response.Error(w, apierror.Unauthorized("heartbeat requires a per-server API key"))
			return
		}
		response.Error(w, err)
		return
	}

	response.OK(w, server)
}
