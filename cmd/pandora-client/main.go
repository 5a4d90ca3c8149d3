package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pandora-cas/pandora-cloud-client/internal/account"
	"github.com/pandora-cas/pandora-cloud-client/internal/api"
	"github.com/pandora-cas/pandora-cloud-client/internal/bus"
	"github.com/pandora-cas/pandora-cloud-client/internal/config"
	"github.com/pandora-cas/pandora-cloud-client/internal/integration"
	"github.com/pandora-cas/pandora-cloud-client/internal/models"
	"github.com/pandora-cas/pandora-cloud-client/internal/storage"
	"github.com/pandora-cas/pandora-cloud-client/pkg/crypto"
)

func main() {
	// Command line flags
	var configFile string
	var hashPassword string
	flag.StringVar(&configFile, "config", "config/pandora-client.yml", "Configuration file path")
	flag.StringVar(&hashPassword, "hash-password", "", "Print the bcrypt hash of the given API password and exit")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if hashPassword != "" {
		hash, err := crypto.HashPassword(hashPassword)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to hash password")
		}
		fmt.Println(hash)
		return
	}

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Optional: connect to NATS
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")

		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.NATS.Name),
			nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Msg("Reconnected to NATS")
			}),
		)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without NATS support")
			nc = nil
		} else {
			defer nc.Close()
			log.Info().Msg("Connected to NATS")
		}
	} else {
		log.Info().Msg("NATS not configured, events stay in-process")
	}

	dispatcher := bus.New(nc)

	// Optional: warm-start store
	var store storage.Store
	if cfg.Database.DSN != "" {
		pg, err := storage.NewPostgresStore(cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer pg.Close()
		store = pg
		log.Info().Msg("Connected to database")

		dispatcher.OnCommand(func(ev models.CommandEvent) {
			if err := store.AppendCommand(context.Background(), ev); err != nil {
				log.Warn().Err(err).Msg("Failed to append command to store")
			}
		})
	}

	// Optional: MQTT mirror
	if cfg.MQTT.Enabled {
		forwarder, err := integration.NewMQTTForwarder(cfg.MQTT, dispatcher)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start MQTT forwarder")
		}
		defer forwarder.Close()
	}

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start accounts
	registry := account.NewRegistry()
	for _, accountCfg := range cfg.Accounts {
		a, err := account.New(accountCfg, dispatcher, store)
		if err != nil {
			log.Fatal().Err(err).Str("account", accountCfg.Name).Msg("Failed to create account")
		}
		registry.Add(a)

		if err := a.Start(ctx); err != nil {
			log.Error().Err(err).Str("account", accountCfg.Name).Msg("Account failed to start")
		}
	}

	// WaitGroup for services
	var wg sync.WaitGroup

	// Optional: local REST API
	var apiServer *api.RESTServer
	if cfg.API.Enabled {
		apiServer = api.NewRESTServer(cfg, registry, store)

		wg.Add(1)
		go func() {
			defer wg.Done()
			addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
			if err := apiServer.ListenAndServe(addr); err != nil {
				log.Error().Err(err).Msg("REST API server stopped")
			}
		}()
	}

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	// Cancel context
	cancel()

	// Shutdown API server
	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
		}
		shutdownCancel()
	}

	// Close accounts
	registry.CloseAll()

	// Wait for all services
	wg.Wait()

	log.Info().Msg("Pandora cloud client stopped")
}
