package client

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"rustshop-api/internal/model"
)

// Player identifies an online player eligible for deliveries.
type Player struct {
	SteamID  string
	Username string
}

// PlayerSource supplies the players currently online. The runner only
// claims entries for players who are present to receive them.
type PlayerSource interface {
	OnlinePlayers() []Player
}

// Executor applies one delivery command in the game. Returning an error
// marks the entry failed; the queue offers it again on a later claim.
type Executor interface {
	Execute(ctx context.Context, entry model.CartEntry, command string) error
}

// ResolveCommand expands the entry's command template for a player.
func ResolveCommand(template string, entry model.CartEntry, username string) string {
	r := strings.NewReplacer(
		"{steamid}", entry.SteamID,
		"{qty}", strconv.Itoa(entry.Quantity),
		"{productId}", entry.ProductID,
		"{orderId}", entry.OrderID,
		"{username}", username,
	)
	return r.Replace(template)
}

// RunnerConfig holds poll loop settings.
type RunnerConfig struct {
	// PollInterval is the time between claim rounds.
	PollInterval time.Duration
	// ClaimCooldown is the minimum time between claims for one player, so
	// a player with nothing pending is not hammered every round.
	ClaimCooldown time.Duration
	// HeartbeatInterval is the time between heartbeats. Zero disables the
	// heartbeat loop (open or global-key deployments).
	HeartbeatInterval time.Duration
	// Telemetry supplies heartbeat info. Required when HeartbeatInterval
	// is set.
	Telemetry func() HeartbeatInfo

	Logger *log.Logger
}

// Runner drives the claim protocol: poll, claim, execute, acknowledge.
type Runner struct {
	client  *Client
	players PlayerSource
	exec    Executor
	cfg     RunnerConfig
	logger  *log.Logger

	mu        sync.Mutex
	lastClaim map[string]time.Time
}

// NewRunner creates a delivery runner.
func NewRunner(c *Client, players PlayerSource, exec Executor, cfg RunnerConfig) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.ClaimCooldown <= 0 {
		cfg.ClaimCooldown = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		client:    c,
		players:   players,
		exec:      exec,
		cfg:       cfg,
		logger:    logger,
		lastClaim: make(map[string]time.Time),
	}
}

// Run blocks until ctx is cancelled, claiming and delivering entries for
// online players every poll interval.
func (r *Runner) Run(ctx context.Context) {
	if r.cfg.HeartbeatInterval > 0 && r.cfg.Telemetry != nil {
		go r.heartbeatLoop(ctx)
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.logger.Printf("[Runner] Started - poll:%s cooldown:%s", r.cfg.PollInterval, r.cfg.ClaimCooldown)

	for {
		select {
		case <-ctx.Done():
			r.logger.Println("[Runner] Stopped")
			return
		case <-ticker.C:
			for _, p := range r.players.OnlinePlayers() {
				r.DeliverFor(ctx, p)
			}
		}
	}
}

// DeliverFor runs one claim round for a single player. Plugins also call
// this directly when a player connects.
func (r *Runner) DeliverFor(ctx context.Context, p Player) {
	if !r.claimAllowed(p.SteamID) {
		return
	}

	entries, err := r.client.Claim(ctx, p.SteamID)
	if err != nil {
		// Transport failure: the outcome is unknown, so nothing is
		// acknowledged. Anything the server did hand out comes back via
		// its stale-delivery sweep.
		r.logger.Printf("[Runner] Claim failed for %s: %v", p.SteamID, err)
		return
	}
	if len(entries) == 0 {
		return
	}

	r.logger.Printf("[Runner] Claimed %d entries for %s", len(entries), p.SteamID)

	for _, entry := range entries {
		command := ResolveCommand(entry.CommandTemplate, entry, p.Username)

		execErr := r.exec.Execute(ctx, entry, command)

		outcome := string(model.EntryDelivered)
		deliveryErr := ""
		if execErr != nil {
			outcome = "failed"
			deliveryErr = execErr.Error()
			r.logger.Printf("[Runner] Delivery failed for %s: %v", entry.ID, execErr)
		}

		if err := r.client.Acknowledge(ctx, entry.ID, outcome, deliveryErr); err != nil {
			// Unacknowledged entries stay delivering server-side until the
			// sweep returns them; do not guess an outcome here.
			r.logger.Printf("[Runner] Acknowledge failed for %s: %v", entry.ID, err)
		}
	}
}

// claimAllowed enforces the per-player claim cooldown.
func (r *Runner) claimAllowed(steamID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if last, ok := r.lastClaim[steamID]; ok && now.Sub(last) < r.cfg.ClaimCooldown {
		return false
	}
	r.lastClaim[steamID] = now
	return true
}

func (r *Runner) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.client.Heartbeat(ctx, r.cfg.Telemetry()); err != nil {
				r.logger.Printf("[Runner] Heartbeat failed: %v", err)
			}
		}
	}
}
