// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/disgoorg/snowflake/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	panelsync "github.com/mlbx/melobox/internal/app/panel"
	"github.com/mlbx/melobox/internal/app/resolve"
	"github.com/mlbx/melobox/internal/app/session"
	"github.com/mlbx/melobox/internal/infra/config"
	"github.com/mlbx/melobox/internal/infra/discord"
	"github.com/mlbx/melobox/internal/infra/logger"
	"github.com/mlbx/melobox/internal/infra/panelstore"
	"github.com/mlbx/melobox/internal/infra/player"
	"github.com/mlbx/melobox/internal/infra/spotify"
	"github.com/mlbx/melobox/internal/infra/ytstream"
)

const (
	surfaceEditsPerSec = 5
	noticesPerSec      = 1
)

var (
	app        = kingpin.New("melobox-server", "melobox playback server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	doctorCmd = app.Command("doctor", "Check external tool availability and exit")
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == doctorCmd.FullCommand() {
		os.Exit(doctor())
	}

	output := "stdout"
	level := "info"
	if *verbose {
		level = "debug"
	}
	if *logfile != "" {
		output = *logfile
	}
	if err := logger.Setup(output, level); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	extractor, err := ytstream.NewExtractor(ctx)
	if err != nil {
		return fmt.Errorf("failed to create extractor: %w", err)
	}

	searchers, err := ytstream.NewSearchers(cfg.Resolver.Searchers)
	if err != nil {
		return fmt.Errorf("failed to create searchers: %w", err)
	}

	resolver := resolve.New(extractor, searchers, cfg.Resolver.Timeout())

	var playlists session.PlaylistProvider
	if cfg.Spotify.Enabled() {
		provider, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return fmt.Errorf("failed to create playlist provider: %w", err)
		}
		playlists = provider
	} else {
		zlog.Info().Msg("Playlist import not configured, continuing without it")
	}

	client, err := discord.NewClient(ctx, cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("failed to connect gateway: %w", err)
	}

	surface := discord.NewSurface(client, surfaceEditsPerSec)
	notifier := discord.NewNotifier(client, noticesPerSec)

	registry := session.NewRegistry(
		player.NewProvider(cfg.Playback.PlayerBinary),
		resolver,
		playlists,
		notifier,
		session.RegistryConfig{
			DefaultVolume:     cfg.Playback.DefaultVolume,
			PlaylistPageSize:  cfg.Playlist.PageSize,
			PlaylistMaxTracks: cfg.Playlist.MaxTracks,
		},
	)

	store := panelstore.New(cfg.Panel.StorePath)
	panels, err := panelsync.NewSynchronizer(surface, store, registry, panelsync.Config{
		RefreshInterval:   cfg.Panel.RefreshInterval(),
		InactivityTimeout: cfg.Panel.InactivityTimeout(),
		SweepInterval:     cfg.Panel.SweepInterval(),
	})
	if err != nil {
		return fmt.Errorf("failed to create panel synchronizer: %w", err)
	}

	// Session updates drive panel refreshes; panel locations tell the
	// notifier where a guild's notices go.
	registry.SetOnCreate(func(s *session.Session) {
		guildID := s.GuildID()
		s.SetOnUpdate(func() { panels.NotifyUpdate(guildID) })
	})
	notifier.SetLocator(func(guildID snowflake.ID) (snowflake.ID, bool) {
		loc, ok := panels.Location(guildID)
		return loc.SurfaceID, ok
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go panels.Run(runCtx)

	zlog.Info().Msg("Server started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	zlog.Info().Msg("Received shutdown signal...")
	cancel()
	registry.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	client.Close(shutdownCtx)

	zlog.Info().Msg("Server stopped")
	return nil
}

// doctor checks the external tools playback depends on.
func doctor() int {
	failed := 0
	for _, tool := range []string{"yt-dlp", "ffmpeg", "mpv"} {
		path, err := exec.LookPath(tool)
		if err != nil {
			fmt.Printf("  %-8s MISSING\n", tool)
			failed++
			continue
		}
		fmt.Printf("  %-8s %s\n", tool, path)
	}
	if failed > 0 {
		fmt.Printf("%d tool(s) missing\n", failed)
		return 1
	}
	fmt.Println("All tools available")
	return 0
}
