// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loganrossus/loom/pkg/auth"
	"github.com/loganrossus/loom/pkg/cluster"
	"github.com/loganrossus/loom/pkg/config"
	"github.com/loganrossus/loom/pkg/fabric"
	"github.com/loganrossus/loom/pkg/memory"
	"github.com/loganrossus/loom/pkg/metrics"
	"github.com/loganrossus/loom/pkg/providers"
	"github.com/loganrossus/loom/pkg/store"
	"github.com/loganrossus/loom/pkg/version"
)

// Application owns every long-lived component and their lifecycles.
type Application struct {
	config   *config.Config
	configMu sync.Mutex
	logger   *slog.Logger

	store         *store.BboltStore
	verifier      *auth.TokenVerifier
	health        *providers.HealthManager
	providers     *providers.Registry
	router        *providers.Router
	memory        *memory.Service
	gossip        *cluster.GossipManager
	elector       *cluster.Elector
	tasks         *cluster.TaskQueue
	sessions      *fabric.SessionRegistry
	fabric        *fabric.Server
	metricsServer *metrics.Server
}

// NewApplication creates an uninitialized application.
func NewApplication(cfg *config.Config, logger *slog.Logger) *Application {
	return &Application{
		config: cfg,
		logger: logger,
	}
}

// Initialize builds every component in dependency order: store, auth,
// providers, memory, cluster, fabric, metrics. Any failure is fatal;
// the daemon never runs partially wired.
func (a *Application) Initialize() error {
	cfg := a.config

	st, err := store.NewBboltStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.store = st
	a.logger.Info("store opened", "path", cfg.Store.Path)

	verifier, err := auth.NewTokenVerifierFromFile(cfg.Auth.TokensFile, cfg.Auth.Tokens, a.logger)
	if err != nil {
		return fmt.Errorf("failed to load client tokens: %w", err)
	}
	if verifier.NumClients() == 0 {
		return fmt.Errorf("no client tokens configured; sessions cannot authenticate")
	}
	a.verifier = verifier
	a.logger.Info("identity store loaded", "clients", verifier.NumClients())

	a.health = providers.NewHealthManager(providers.DefaultHealthConfig(), a.logger)
	registry, err := providers.BuildRegistry(cfg.Providers, a.health)
	if err != nil {
		return fmt.Errorf("failed to build provider registry: %w", err)
	}
	a.providers = registry
	a.router = providers.NewRouter(registry, a.logger)
	a.logger.Info("providers configured", "enabled", registry.EnabledIDs())

	a.memory = memory.NewService(st, cfg.Memory, a.logger)

	if err := a.initializeCluster(); err != nil {
		return err
	}

	a.sessions = fabric.NewSessionRegistry()
	dispatcher := fabric.NewDispatcher(fabric.DispatcherConfig{
		Registry: a.sessions,
		Verifier: a.verifier,
		Router:   a.router,
		Memory:   a.memory,
		Gossip:   a.gossip,
		Elector:  a.elector,
		Tasks:    a.tasks,
		AI:       cfg.AI,
		Logger:   a.logger,
	})
	fabricServer, err := fabric.NewServer(fabric.ServerConfig{
		Session:    cfg.Session,
		RateLimit:  cfg.RateLimit,
		Registry:   a.sessions,
		Dispatcher: dispatcher,
		Providers:  registry.EnabledIDs(),
		Logger:     a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create fabric server: %w", err)
	}
	a.fabric = fabricServer

	a.registerTaskHandlers()

	if cfg.Metrics.Enabled {
		a.metricsServer = metrics.NewServer(metrics.ServerConfig{
			Address: cfg.Metrics.ListenAddress,
			Logger:  a.logger,
		})
	}
	metrics.SetAppInfo(version.Version)

	return nil
}

// initializeCluster wires gossip, election, and the leader task queue.
func (a *Application) initializeCluster() error {
	cfg := a.config

	seeds := cfg.Gossip.Seeds
	if cfg.Gossip.SRVDiscovery != "" {
		seeds = append(seeds, "srv+"+cfg.Gossip.SRVDiscovery)
	}
	resolveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	seeds = cluster.ResolveSeeds(resolveCtx, seeds, "", a.logger)
	cancel()

	gossip, err := cluster.NewGossipManager(&cluster.GossipConfig{
		NodeID:         cfg.Node.ID,
		BindAddr:       cfg.Node.BindAddress,
		BindPort:       cfg.Gossip.Port,
		AdvertiseAddr:  cfg.Node.AdvertiseAddress,
		Seeds:          seeds,
		TickInterval:   cfg.Gossip.Interval(),
		ProbeTimeout:   cfg.Gossip.ProbeTimeout(),
		SuspectTimeout: cfg.Gossip.SuspectTimeout(),
		IndirectProbes: cfg.Gossip.IndirectNodes,
		SyncEvery:      cfg.Gossip.SyncEvery,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create gossip manager: %w", err)
	}
	a.gossip = gossip

	elector, err := cluster.NewElector(&cluster.ElectionConfig{
		TimeoutMin: cfg.Election.MinTimeout(),
		TimeoutMax: cfg.Election.MaxTimeout(),
	}, gossip, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create elector: %w", err)
	}
	a.elector = elector
	elector.OnLeadershipChange(func(isLeader bool, term uint64) {
		if isLeader {
			a.logger.Info("assumed cluster leadership", "term", term)
		} else {
			a.logger.Info("yielded cluster leadership", "term", term)
		}
	})

	tasks, err := cluster.NewTaskQueue(elector, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create task queue: %w", err)
	}
	a.tasks = tasks
	return nil
}

// registerTaskHandlers binds the four leader task kinds to their
// executors.
func (a *Application) registerTaskHandlers() {
	a.tasks.Handle(cluster.TaskBroadcast, func(ctx context.Context, task cluster.Task) error {
		var payload map[string]any
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return fmt.Errorf("broadcast payload: %w", err)
		}
		env := fabric.NewEnvelope(fabric.TypeBroadcast, payload)
		for _, s := range a.sessions.All() {
			if s.State() == fabric.StateActive {
				s.Send(env)
			}
		}
		return nil
	})

	a.tasks.Handle(cluster.TaskHealthCheck, func(ctx context.Context, task cluster.Task) error {
		results := a.health.CheckNow(ctx)
		for id, err := range results {
			if err != nil {
				a.logger.Warn("on-demand health check failed", "provider", id, "error", err)
			}
		}
		return nil
	})

	a.tasks.Handle(cluster.TaskAIRequest, func(ctx context.Context, task cluster.Task) error {
		var req struct {
			Content  string `json:"content"`
			Provider string `json:"provider"`
			Model    string `json:"model"`
		}
		if err := json.Unmarshal(task.Payload, &req); err != nil {
			return fmt.Errorf("ai_request payload: %w", err)
		}
		resp, err := a.router.Invoke(ctx, providers.Request{
			Messages:          []providers.Message{{Role: providers.RoleUser, Content: req.Content}},
			Model:             req.Model,
			PreferredProvider: req.Provider,
			MaxTokens:         a.config.AI.MaxTokens,
		})
		if err != nil {
			return err
		}
		a.logger.Info("leader ai_request completed",
			"task_id", task.ID, "provider", resp.Provider, "tokens", resp.Usage.TotalTokens)
		return nil
	})

	a.tasks.Handle(cluster.TaskMemorySync, func(ctx context.Context, task cluster.Task) error {
		// Checkpoint continuity for every live session so a resume
		// after failover picks up from the last known state.
		for _, s := range a.sessions.All() {
			memID := s.MemorySessionID()
			if memID == "" {
				continue
			}
			err := a.memory.SaveContinuity(ctx, &memory.Continuity{
				SessionID:      memID,
				ContextSummary: "checkpoint for client " + s.ClientID(),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Start runs all components and blocks until the context is canceled.
func (a *Application) Start(ctx context.Context) error {
	if err := a.gossip.Start(ctx); err != nil {
		return fmt.Errorf("failed to start gossip: %w", err)
	}
	if err := a.elector.Start(ctx); err != nil {
		return fmt.Errorf("failed to start elector: %w", err)
	}
	if err := a.tasks.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task queue: %w", err)
	}
	if err := a.health.Start(ctx); err != nil {
		return fmt.Errorf("failed to start health manager: %w", err)
	}
	if err := a.fabric.Start(ctx); err != nil {
		return fmt.Errorf("failed to start fabric server: %w", err)
	}

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.Start(ctx); err != nil {
				a.logger.Error("metrics server error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	return nil
}

// Shutdown stops components in reverse order. Gossip goes first so the
// leave broadcast reaches peers before anything else winds down.
func (a *Application) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down application")

	var shutdownErr error

	if a.gossip != nil {
		if err := a.gossip.Stop(ctx); err != nil {
			a.logger.Error("error stopping gossip", "error", err)
			shutdownErr = err
		}
	}
	if a.fabric != nil {
		if err := a.fabric.Stop(ctx); err != nil {
			a.logger.Error("error stopping fabric server", "error", err)
			shutdownErr = err
		}
	}
	if a.tasks != nil {
		if err := a.tasks.Stop(ctx); err != nil {
			a.logger.Error("error stopping task queue", "error", err)
			shutdownErr = err
		}
	}
	if a.elector != nil {
		if err := a.elector.Stop(ctx); err != nil {
			a.logger.Error("error stopping elector", "error", err)
			shutdownErr = err
		}
	}
	if a.health != nil {
		a.health.Stop()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("error closing store", "error", err)
			shutdownErr = err
		}
	}

	a.logger.Info("application shutdown complete")
	return shutdownErr
}

// Reload applies the subset of configuration that can change at
// runtime: client tokens. Topology, provider, and listener changes
// require a restart.
func (a *Application) Reload(newCfg *config.Config) error {
	a.configMu.Lock()
	defer a.configMu.Unlock()

	oldCfg := a.config

	if oldCfg.Gossip.Port != newCfg.Gossip.Port ||
		oldCfg.Session.ListenAddress != newCfg.Session.ListenAddress ||
		oldCfg.Store.Path != newCfg.Store.Path {
		return fmt.Errorf("gossip, session, or store changes require restart")
	}
	if len(oldCfg.Providers) != len(newCfg.Providers) {
		a.logger.Warn("provider set changed; restart required for it to take effect")
	}

	for clientID, token := range newCfg.Auth.Tokens {
		if err := a.verifier.SetToken(clientID, token); err != nil {
			return fmt.Errorf("client %q: %w", clientID, err)
		}
	}

	a.config = newCfg
	return nil
}
