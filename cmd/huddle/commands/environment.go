// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/huddle-dev/huddle/cmd/huddle/cli"
	"github.com/huddle-dev/huddle/gateway"
	"github.com/huddle-dev/huddle/lib/codec"
	"github.com/huddle-dev/huddle/lib/config"
	"github.com/huddle-dev/huddle/lib/identity"
	"github.com/huddle-dev/huddle/lib/ref"
	"github.com/huddle-dev/huddle/messaging"
	"github.com/huddle-dev/huddle/room"
	"github.com/huddle-dev/huddle/sandbox"
)

// configFlags is the --config flag shared by every command that talks
// to the gateway or the bus.
type configFlags struct {
	path string
}

func (f *configFlags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.path, "config", "", "config file (default: $"+config.EnvVar+")")
}

func (f *configFlags) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.path != "" {
		cfg, err = config.LoadFile(f.path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// environment is everything a command needs to reach a project.
type environment struct {
	config   *config.Config
	identity identity.Provider
	gateway  gateway.Gateway
	dialer   messaging.Dialer
	logger   *slog.Logger

	// sandbox returns the adapter for a project's runs.
	sandbox func(projectID ref.ProjectID) (sandbox.Adapter, error)
}

// newEnvironment wires the configured identity, gateway client, bus
// transports, and local sandbox.
func newEnvironment(cfg *config.Config, logger *slog.Logger) (*environment, error) {
	provider, err := loadIdentity(cfg.Identity)
	if err != nil {
		return nil, err
	}
	client, err := gateway.NewClient(gateway.ClientConfig{
		BaseURL:     cfg.Gateway.URL,
		Credentials: provider,
		Timeout:     cfg.Gateway.Timeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	compression, err := codec.ParseCompression(cfg.Bus.Compression)
	if err != nil {
		return nil, fmt.Errorf("bus.compression: %w", err)
	}
	bwrap, err := sandbox.ParseBwrapMode(cfg.Sandbox.Bwrap)
	if err != nil {
		return nil, fmt.Errorf("sandbox.bwrap: %w", err)
	}

	return &environment{
		config:   cfg,
		identity: provider,
		gateway:  client,
		dialer: &messaging.Router{
			Stream: &messaging.StreamDialer{Compression: compression, Logger: logger},
			Matrix: &messaging.MatrixDialer{Logger: logger, Assistant: cfg.Bus.MatrixAssistant},
			Memory: messaging.NewHub(logger),
		},
		logger: logger,
		sandbox: func(projectID ref.ProjectID) (sandbox.Adapter, error) {
			return sandbox.NewLocal(sandbox.LocalConfig{
				Workspace: cfg.WorkspaceDir(projectID),
				Bwrap:     bwrap,
				Logger:    logger,
			})
		},
	}, nil
}

func loadIdentity(cfg config.IdentityConfig) (*identity.Static, error) {
	var errs []error
	userID, err := ref.ParseUserID(cfg.UserID)
	if err != nil {
		errs = append(errs, fmt.Errorf("identity.user_id: %w", err))
	}
	if cfg.TokenFile == "" {
		errs = append(errs, errors.New("identity.token_file is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	credential, err := identity.ReadCredentialFile(cfg.TokenFile, cfg.AgeIdentityFile)
	if err != nil {
		return nil, err
	}
	return identity.NewStatic(identity.Identity{ID: userID, Email: cfg.Email}, credential), nil
}

// channelOptions are the per-command parts of a room.Config.
type channelOptions struct {
	runOutput io.Writer
	errorSink room.ErrorSink
	notify    func(room.Change)
}

func (e *environment) newChannel(options channelOptions) (*room.Channel, error) {
	plan := room.RunPlan{Install: e.config.Sandbox.Install, Start: e.config.Sandbox.Start}
	return room.New(room.Config{
		Dialer:    e.dialer,
		Endpoint:  e.config.Bus.Endpoint,
		Identity:  e.identity,
		Gateway:   e.gateway,
		Plan:      plan,
		RunOutput: options.runOutput,
		ErrorSink: options.errorSink,
		Notify:    options.notify,
		Logger:    e.logger,
	})
}

// attachSandbox gives channel the project's sandbox and returns it. A
// sandbox that cannot be created is logged and nil is returned; Run
// then reports ErrSandboxUnavailable.
func (e *environment) attachSandbox(channel *room.Channel, projectID ref.ProjectID) sandbox.Adapter {
	adapter, err := e.sandbox(projectID)
	if err != nil {
		e.logger.Warn("sandbox unavailable", "project_id", projectID, "error", err)
		return nil
	}
	channel.AttachSandbox(adapter)
	return adapter
}

// unconfined reports whether adapter runs commands directly on this
// machine, outside bubblewrap.
func unconfined(adapter sandbox.Adapter) bool {
	local, ok := adapter.(*sandbox.Local)
	return ok && !local.Confined()
}

// environment loads the config and builds an environment logging to
// stderr at the configured level.
func (f *configFlags) environment() (*environment, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, err
	}
	level, _ := cfg.LogLevel()
	return newEnvironment(cfg, cli.NewCommandLogger(level))
}
