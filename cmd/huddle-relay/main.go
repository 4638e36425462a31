// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

// huddle-relay is the realtime bus: it authenticates stream clients,
// fans project messages out to each room's members, and hosts the @ai
// assistant when a provider is configured.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/huddle-dev/huddle/lib/codec"
	"github.com/huddle-dev/huddle/lib/config"
	"github.com/huddle-dev/huddle/lib/llm"
	"github.com/huddle-dev/huddle/lib/version"
	"github.com/huddle-dev/huddle/relay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		listen      string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("huddle-relay", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "config file (default: $"+config.EnvVar+")")
	flagSet.StringVar(&listen, "listen", "", "endpoint to listen on, overriding relay.listen")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("huddle-relay %s\n", version.Info())
		return nil
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Relay.Listen = listen
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level, _ := cfg.LogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if cfg.Relay.Listen == "" {
		return errors.New("relay.listen is required")
	}
	if cfg.Relay.TokensFile == "" {
		return errors.New("relay.tokens_file is required")
	}
	authenticator, err := relay.LoadTokensFile(cfg.Relay.TokensFile)
	if err != nil {
		return err
	}
	compression, err := codec.ParseCompression(cfg.Bus.Compression)
	if err != nil {
		return fmt.Errorf("bus.compression: %w", err)
	}
	assistant, err := newAssistant(cfg.Relay.Assistant, logger)
	if err != nil {
		return err
	}

	server, err := relay.NewServer(relay.Config{
		Authenticator:    authenticator,
		HandshakeTimeout: cfg.Relay.HandshakeTimeout,
		QueueDepth:       cfg.Relay.QueueDepth,
		Compression:      compression,
		Assistant:        assistant,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("relay starting",
		"version", version.Full(),
		"listen", cfg.Relay.Listen,
		"users", authenticator.Len(),
		"compression", compression,
		"assistant", assistant != nil,
	)
	return server.ListenAndServe(ctx, cfg.Relay.Listen)
}

// newAssistant returns nil when no provider is configured.
func newAssistant(cfg config.AssistantConfig, logger *slog.Logger) (*relay.Assistant, error) {
	if cfg.Provider == "" {
		return nil, nil
	}
	var apiKey string
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("relay.assistant: $%s is not set", cfg.APIKeyEnv)
		}
	}
	provider, err := llm.New(llm.Config{Provider: cfg.Provider, BaseURL: cfg.BaseURL, APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("relay.assistant: %w", err)
	}
	return relay.NewAssistant(relay.AssistantConfig{
		Provider:  provider,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		Logger:    logger,
	})
}
