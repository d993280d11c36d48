package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rustshop-api/internal/model"
)

const testSteamID = "76561198000000001"

// fakeAPI is an in-memory fulfillment endpoint. It hands out a fixed set
// of entries on claim and records every acknowledgement.
type fakeAPI struct {
	mu      sync.Mutex
	entries []model.CartEntry
	claims  int
	acks    map[string]updateRequest
	lastKey string
}

func newFakeAPI(entries ...model.CartEntry) *fakeAPI {
	return &fakeAPI{entries: entries, acks: make(map[string]updateRequest)}
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/plugin/claim", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.claims++
		f.lastKey = r.Header.Get("X-API-Key")
		n := len(f.entries)
		writeEnvelope(w, envelope{Success: true, Data: mustJSON(f.entries), Count: &n})
	})
	mux.HandleFunc("/api/plugin/update", func(w http.ResponseWriter, r *http.Request) {
		var req updateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.acks[req.EntryID] = req
		writeEnvelope(w, envelope{Success: true})
	})
	return mux
}

func writeEnvelope(w http.ResponseWriter, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(env)
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// scriptedExecutor fails the entries listed in failWith and records every
// resolved command.
type scriptedExecutor struct {
	mu       sync.Mutex
	failWith map[string]string
	commands []string
}

func (e *scriptedExecutor) Execute(_ context.Context, entry model.CartEntry, command string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, command)
	if msg, ok := e.failWith[entry.ID]; ok {
		return errors.New(msg)
	}
	return nil
}

type staticPlayers []Player

func (s staticPlayers) OnlinePlayers() []Player { return s }

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testEntry(id string) model.CartEntry {
	return model.CartEntry{
		ID:              id,
		SteamID:         testSteamID,
		OrderID:         "ORD-TEST00000001",
		ProductID:       "prod-wood",
		ProductName:     "Wood x1000",
		Quantity:        2,
		CommandTemplate: "inventory.giveto {steamid} wood {qty}",
		Status:          model.EntryDelivering,
	}
}

func TestResolveCommand(t *testing.T) {
	entry := testEntry("CE-A")
	entry.Quantity = 3

	got := ResolveCommand("say {username} bought {productId} x{qty} ({orderId}) for {steamid}", entry, "Rusty")

	assert.Equal(t, "say Rusty bought prod-wood x3 (ORD-TEST00000001) for "+testSteamID, got)
}

func TestDeliverForAcknowledgesOutcomes(t *testing.T) {
	api := newFakeAPI(testEntry("CE-OK"), testEntry("CE-BROKEN"))
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	exec := &scriptedExecutor{failWith: map[string]string{"CE-BROKEN": "player inventory full"}}
	runner := NewRunner(
		New(Config{BaseURL: srv.URL, APIKey: "srv-key"}),
		staticPlayers{{SteamID: testSteamID, Username: "Rusty"}},
		exec,
		RunnerConfig{Logger: quietLogger()},
	)

	runner.DeliverFor(context.Background(), Player{SteamID: testSteamID, Username: "Rusty"})

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, 1, api.claims)
	assert.Equal(t, "srv-key", api.lastKey)

	require.Contains(t, api.acks, "CE-OK")
	assert.Equal(t, "delivered", api.acks["CE-OK"].Status)
	assert.Empty(t, api.acks["CE-OK"].Error)

	require.Contains(t, api.acks, "CE-BROKEN")
	assert.Equal(t, "failed", api.acks["CE-BROKEN"].Status)
	assert.Equal(t, "player inventory full", api.acks["CE-BROKEN"].Error)

	assert.Equal(t, []string{
		"inventory.giveto " + testSteamID + " wood 2",
		"inventory.giveto " + testSteamID + " wood 2",
	}, exec.commands)
}

func TestDeliverForHonoursClaimCooldown(t *testing.T) {
	api := newFakeAPI()
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	runner := NewRunner(
		New(Config{BaseURL: srv.URL}),
		staticPlayers{},
		&scriptedExecutor{},
		RunnerConfig{ClaimCooldown: time.Minute, Logger: quietLogger()},
	)

	p := Player{SteamID: testSteamID}
	runner.DeliverFor(context.Background(), p)
	runner.DeliverFor(context.Background(), p)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, 1, api.claims, "second round inside the cooldown must not hit the API")
}

func TestClaimTransportFailureAcknowledgesNothing(t *testing.T) {
	api := newFakeAPI(testEntry("CE-A"))
	mux := http.NewServeMux()
	mux.HandleFunc("/api/plugin/claim", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.Handle("/api/plugin/update", api.handler())
	srv := httptest.NewServer(mux)
	defer srv.Close()

	runner := NewRunner(
		New(Config{BaseURL: srv.URL}),
		staticPlayers{},
		&scriptedExecutor{},
		RunnerConfig{Logger: quietLogger()},
	)

	runner.DeliverFor(context.Background(), Player{SteamID: testSteamID})

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Empty(t, api.acks)
}

func TestClientUnwrapsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		writeEnvelope(w, envelope{Success: false, Error: &APIError{Code: "NOT_FOUND", Message: "cart entry not found"}})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	err := c.Acknowledge(context.Background(), "CE-MISSING", "delivered", "")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
	assert.Equal(t, "cart entry not found", apiErr.Message)
}

func TestClientPendingDecodesEntries(t *testing.T) {
	entries := []model.CartEntry{testEntry("CE-A"), testEntry("CE-B")}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/plugin/pending", r.URL.Path)
		assert.Equal(t, testSteamID, r.URL.Query().Get("steam_id"))
		n := len(entries)
		writeEnvelope(w, envelope{Success: true, Data: mustJSON(entries), Count: &n})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	got, err := c.Pending(context.Background(), testSteamID)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "CE-A", got[0].ID)
	assert.Equal(t, model.EntryDelivering, got[0].Status)
}
