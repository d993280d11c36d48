// The agent is a standalone delivery runner for deployments where the game
// server cannot embed the protocol client directly: it claims entries for a
// configured set of players and hands the resolved commands to the server's
// console (here: stdout, the RCON hookup is deployment specific).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"rustshop-api/internal/client"
	"rustshop-api/internal/model"
)

type agentConfig struct {
	APIURL            string        `envconfig:"AGENT_API_URL" default:"http://localhost:8080"`
	APIKey            string        `envconfig:"AGENT_API_KEY" default:""`
	SteamIDs          []string      `envconfig:"AGENT_STEAM_IDS"`
	PollInterval      time.Duration `envconfig:"AGENT_POLL_INTERVAL" default:"30s"`
	ClaimCooldown     time.Duration `envconfig:"AGENT_CLAIM_COOLDOWN" default:"10s"`
	HeartbeatInterval time.Duration `envconfig:"AGENT_HEARTBEAT_INTERVAL" default:"60s"`
	MaxPlayers        int           `envconfig:"AGENT_MAX_PLAYERS" default:"0"`
	MapName           string        `envconfig:"AGENT_MAP_NAME" default:""`
}

// staticPlayers treats the configured Steam ids as always online.
type staticPlayers struct {
	players []client.Player
}

func (s *staticPlayers) OnlinePlayers() []client.Player {
	return s.players
}

// consoleExecutor prints the resolved command instead of running it.
type consoleExecutor struct {
	logger *log.Logger
}

func (e *consoleExecutor) Execute(ctx context.Context, entry model.CartEntry, command string) error {
	e.logger.Printf("[Agent] Deliver %s (%s x%d): %s", entry.ID, entry.ProductName, entry.Quantity, command)
	return nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	_ = godotenv.Load()

	var cfg agentConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if len(cfg.SteamIDs) == 0 {
		log.Fatal("AGENT_STEAM_IDS is required (comma-separated SteamID64 list)")
	}

	players := make([]client.Player, 0, len(cfg.SteamIDs))
	for _, id := range cfg.SteamIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		players = append(players, client.Player{SteamID: id, Username: id})
	}

	c := client.New(client.Config{
		BaseURL: cfg.APIURL,
		APIKey:  cfg.APIKey,
	})

	runnerCfg := client.RunnerConfig{
		PollInterval:  cfg.PollInterval,
		ClaimCooldown: cfg.ClaimCooldown,
		Logger:        log.Default(),
	}
	if cfg.APIKey != "" && cfg.HeartbeatInterval > 0 {
		runnerCfg.HeartbeatInterval = cfg.HeartbeatInterval
		runnerCfg.Telemetry = func() client.HeartbeatInfo {
			return client.HeartbeatInfo{
				CurrentPlayers: len(players),
				MaxPlayers:     cfg.MaxPlayers,
				MapName:        cfg.MapName,
			}
		}
	}

	runner := client.NewRunner(c, &staticPlayers{players: players}, &consoleExecutor{logger: log.Default()}, runnerCfg)

	ctx, cancel := context.WithCancel(context.Background())
	go runner.Run(ctx)

	log.Printf("Agent polling %s for %d players", cfg.APIURL, len(players))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	cancel()

	log.Println("Agent stopped")
	fmt.Println("Goodbye!")
}
