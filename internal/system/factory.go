// Package system wires configuration into a running trustaudit instance.
// It is the one place that knows how every component is constructed.
package system

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"trustaudit/internal/audit"
	"trustaudit/internal/browser"
	"trustaudit/internal/collect"
	"trustaudit/internal/config"
	"trustaudit/internal/investigate"
	"trustaudit/internal/logging"
	"trustaudit/internal/metrics"
	"trustaudit/internal/ratelimit"
	"trustaudit/internal/reasoning"
	"trustaudit/internal/sources"
	"trustaudit/internal/store"
	"trustaudit/internal/trust"
	"trustaudit/internal/usage"
)

// System is a fully wired instance.
type System struct {
	Config       *config.Config
	Store        *store.SQLStore
	Limiter      ratelimit.Limiter
	Registry     *sources.Registry
	Orchestrator *collect.Orchestrator
	Reasoning    reasoning.Service
	Investigator *investigate.Investigator
	Auditor      *audit.Auditor
	Usage        *usage.Tracker
	Metrics      *metrics.Recorder
	Trust        *trust.Service

	renderer *browser.Renderer
	redis    *redis.Client
}

// Boot builds every component from cfg. The returned System must be closed.
func Boot(ctx context.Context, cfg *config.Config) (*System, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	timer := logging.StartTimer(logging.CategoryBoot, "Boot")
	defer timer.Stop()

	sys := &System{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = sys.Close()
		}
	}()

	// 1. Store
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	sys.Store = st

	// 2. Rate limiting, shared through Redis when enabled
	rates := ratelimit.NewDomainLimiter(toRate(cfg.RateLimits.Default), domainRates(cfg))
	sys.Limiter = rates
	if cfg.Redis.Enabled {
		rdb, err := ratelimit.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		sys.redis = rdb
		sys.Limiter = ratelimit.NewRedisLimiter(rdb, rates, cfg.Redis.KeyPrefix)
		logging.Boot("Using shared rate limiter at %s", cfg.Redis.Addr)
	}

	// 3. Sources
	reg := sources.DefaultRegistry()
	if len(cfg.Sources.Disabled) > 0 {
		reg = reg.Without(cfg.Sources.Disabled...)
	}
	reg.SetAdHocTTL(cfg.GetInvestigationTTL())
	sys.Registry = reg

	client := sources.NewHTTPClient(cfg.Collection.UserAgent, cfg.GetFetchTimeout())
	deps := sources.Deps{Client: client, GooglePlacesAPIKey: cfg.Sources.GooglePlacesAPIKey}
	if cfg.Browser.Enabled {
		bcfg := browser.DefaultConfig()
		bcfg.Headless = cfg.Browser.Headless
		bcfg.Bin = cfg.Browser.Bin
		bcfg.UserAgent = cfg.Collection.UserAgent
		sys.renderer = browser.NewRenderer(bcfg)
		deps.Renderer = sys.renderer
	}
	fetchers := sources.Build(reg, deps)

	// 4. Cost tracking and metrics
	sys.Usage = usage.NewTracker(st)
	sys.Metrics = metrics.Default()

	// 5. Collection
	sys.Orchestrator, err = collect.New(reg, fetchers, st, st, sys.Limiter, collect.Config{
		BatchSize:            cfg.Collection.BatchSize,
		FetchTimeout:         cfg.GetFetchTimeout(),
		DiscrepancyThreshold: cfg.Collection.DiscrepancyThreshold,
	}, collect.WithCostRecorder(sys.Usage), collect.WithMetrics(sys.Metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to build orchestrator: %w", err)
	}

	// 6. Reasoning service and the investigate capability
	sys.Reasoning, err = reasoning.NewFromConfig(ctx, cfg.Reasoning, cfg.GetReasoningTimeout())
	if err != nil {
		return nil, fmt.Errorf("failed to create reasoning service: %w", err)
	}
	sys.Investigator = investigate.New(
		investigate.NewDuckDuckGo(cfg.Search.BaseURL, client),
		st, st, sys.Limiter,
		investigate.Config{Timeout: cfg.GetFetchTimeout(), TTL: reg.AdHocTTL()},
		investigate.WithMetrics(sys.Metrics),
	)

	// 7. Audit loop
	sys.Auditor, err = audit.New(sys.Reasoning, st, st, sys.Investigator, audit.Config{
		Version:              cfg.Audit.Version,
		MaxIterations:        cfg.Audit.MaxIterations,
		MaxInvestigations:    cfg.Audit.MaxInvestigations,
		DigestBudget:         cfg.Audit.DigestBudget,
		DiscrepancyThreshold: cfg.Collection.DiscrepancyThreshold,
		InputPricePerMTok:    cfg.Reasoning.InputPricePerMTok,
		OutputPricePerMTok:   cfg.Reasoning.OutputPricePerMTok,
	}, audit.WithCostTracker(sys.Usage), audit.WithMetrics(sys.Metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create auditor: %w", err)
	}

	sys.Trust = trust.NewService(st, sys.Orchestrator, sys.Auditor)

	logging.Boot("Booted with %d sources, reasoning=%s/%s, audit rules %s",
		reg.Len(), sys.Reasoning.Provider(), sys.Reasoning.Model(), cfg.Audit.Version)
	ok = true
	return sys, nil
}

func toRate(r config.DomainRate) ratelimit.Rate {
	return ratelimit.Rate{PerMinute: r.PerMinute, Burst: r.Burst}
}

func domainRates(cfg *config.Config) map[string]ratelimit.Rate {
	out := make(map[string]ratelimit.Rate, len(cfg.RateLimits.Domains))
	for domain, r := range cfg.RateLimits.Domains {
		out[domain] = toRate(r)
	}
	return out
}
