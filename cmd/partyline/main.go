// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/partyline/auth"
	"github.com/bureau-foundation/partyline/client"
	"github.com/bureau-foundation/partyline/lib/config"
	"github.com/bureau-foundation/partyline/party"
	"github.com/bureau-foundation/partyline/rest"
	"github.com/bureau-foundation/partyline/xmpp"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var authorizationCode string
	var exchangeCode string
	var metricsListen string
	var logout bool

	flagSet := pflag.NewFlagSet("partyline", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config file (default: $PARTYLINE_CONFIG)")
	flagSet.StringVar(&authorizationCode, "authorization-code", "", "log in with a one-time authorization code")
	flagSet.StringVar(&exchangeCode, "exchange-code", "", "log in with a one-time exchange code")
	flagSet.StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address (overrides metrics.listen)")
	flagSet.BoolVar(&logout, "logout", false, "leave the party and revoke every session on exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if metricsListen != "" {
		cfg.Metrics.Listen = metricsListen
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	store, err := newCredentialStore(cfg.DeviceAuthPath(), cfg.Paths.Identity)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := rest.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Listen != "" {
		server := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer server.Close()
		logger.Info("serving metrics", "listen", cfg.Metrics.Listen)
	}

	instance, err := client.New(clientConfig(cfg, clientOptions{
		credentials: selectCredentials(store, authorizationCode, exchangeCode),
		metrics:     metrics,
		onEvent:     eventLogger(logger, store),
		logger:      logger,
	}))
	if err != nil {
		return err
	}

	logger.Info("starting partyline", "environment", cfg.Environment, "platform", cfg.Session.Platform)
	if err := instance.Start(ctx); err != nil {
		shutdown(instance, false, logger)
		return err
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")
	return shutdown(instance, logout, logger)
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func shutdown(instance *client.Client, logout bool, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if logout {
		if err := instance.Logout(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := instance.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
		return err
	}
	logger.Info("shut down")
	return nil
}

type clientOptions struct {
	credentials auth.Credentials
	metrics     *rest.Metrics
	onEvent     func(client.Event)
	logger      *slog.Logger
}

// clientConfig maps the file configuration onto the engine.
func clientConfig(cfg *config.Config, options clientOptions) client.Config {
	partyConfig := party.DefaultConfig()
	if cfg.Party.Joinability != "" {
		partyConfig.Joinability = cfg.Party.Joinability
	}
	if cfg.Party.MaxSize > 0 {
		partyConfig.MaxSize = cfg.Party.MaxSize
	}
	partyConfig.JoinConfirmation = cfg.Party.JoinConfirmation

	return client.Config{
		Credentials:       options.credentials,
		Endpoints:         cfg.Endpoints,
		HTTPClient:        &http.Client{Timeout: cfg.HTTP.Timeout},
		UserAgent:         cfg.HTTP.UserAgent,
		MaxRetries:        cfg.HTTP.MaxRetries,
		Metrics:           options.metrics,
		IssueDeviceAuth:   true,
		AcceptEULA:        cfg.Session.AcceptEULA,
		KillOtherSessions: cfg.Session.KillOtherSessions,
		ClientCredentials: cfg.Session.ClientCredentials,
		ChatPresence:      cfg.Session.ChatPresence,
		Platform:          cfg.Session.Platform,
		Status:            xmpp.Status{Text: cfg.Presence.Status, IsJoinable: cfg.Party.Joinability == "OPEN"},
		Presence: client.PresenceOptions{
			ConnectTimeout:       cfg.Presence.ConnectTimeout,
			KeepaliveInterval:    cfg.Presence.KeepaliveInterval,
			PongTimeout:          cfg.Presence.PongTimeout,
			RoomJoinTimeout:      cfg.Presence.RoomJoinTimeout,
			ReconnectMaxInterval: cfg.Presence.ReconnectMaxInterval,
		},
		Friends: client.FriendOptions{
			WaitTimeout:           cfg.Friends.WaitTimeout,
			PresenceLifetime:      cfg.Friends.PresenceLifetime,
			PresenceSweepInterval: cfg.Friends.PresenceSweepInterval,
			UserLifetime:          cfg.Friends.UserLifetime,
			UserSweepInterval:     cfg.Friends.UserSweepInterval,
		},
		CreateParty:      cfg.Party.Create,
		PartyConfig:      partyConfig,
		PartyLockTimeout: cfg.Party.LockTimeout,
		OnEvent:          options.onEvent,
		Logger:           options.logger,
	}
}
