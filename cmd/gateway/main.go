//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package main starts the agent-run gateway HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trpc.group/trpc-go/trpc-agent-gateway/budget"
	"trpc.group/trpc-go/trpc-agent-gateway/config"
	"trpc.group/trpc-go/trpc-agent-gateway/executor"
	"trpc.group/trpc-go/trpc-agent-gateway/log"
	"trpc.group/trpc-go/trpc-agent-gateway/model/openai"
	"trpc.group/trpc-go/trpc-agent-gateway/runner"
	"trpc.group/trpc-go/trpc-agent-gateway/server"
	"trpc.group/trpc-go/trpc-agent-gateway/submit"
	"trpc.group/trpc-go/trpc-agent-gateway/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-gateway/telemetry/trace"
)

var (
	configPath = flag.String("config", "", "Path to the YAML configuration file")
	addr       = flag.String("addr", "", "Listen address, overrides server.addr")
)

const shutdownTimeout = 10 * time.Second

func main() {
	flag.Parse()
	if err := run(); err != nil {
		log.Fatalf("gateway: %v", err)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	log.SetFormat(cfg.Log.Format, nil)
	log.SetLevel(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Providers must be installed before the runner grabs its instruments.
	if cfg.Telemetry.Enabled {
		cleanup, err := startTelemetry(ctx, cfg.Telemetry)
		if err != nil {
			return err
		}
		defer cleanup()
	}

	rn, err := newRunner(cfg)
	if err != nil {
		return err
	}
	defer rn.Close()

	srv := server.New(rn,
		server.WithBasePath(cfg.Server.BasePath),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
	)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("gateway listening on %s (agents: %v)", cfg.Server.Addr, cfg.AgentKeys())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func startTelemetry(ctx context.Context, tc config.TelemetryConfig) (func(), error) {
	traceOpts := []trace.Option{trace.WithProtocol(tc.Protocol)}
	if tc.TracesEndpoint != "" {
		traceOpts = append(traceOpts, trace.WithEndpoint(tc.TracesEndpoint))
	}
	if tc.TracesEndpointURL != "" {
		traceOpts = append(traceOpts, trace.WithEndpointURL(tc.TracesEndpointURL))
	}
	if len(tc.Headers) > 0 {
		traceOpts = append(traceOpts, trace.WithHeaders(tc.Headers))
	}
	cleanTrace, err := trace.Start(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("start tracing: %w", err)
	}
	metricOpts := []metric.Option{metric.WithProtocol(tc.Protocol)}
	if tc.MetricsEndpoint != "" {
		metricOpts = append(metricOpts, metric.WithEndpoint(tc.MetricsEndpoint))
	}
	cleanMetric, err := metric.Start(ctx, metricOpts...)
	if err != nil {
		if cerr := cleanTrace(); cerr != nil {
			log.Warnf("telemetry cleanup: %v", cerr)
		}
		return nil, fmt.Errorf("start metrics: %w", err)
	}
	return func() {
		if err := cleanMetric(); err != nil {
			log.Warnf("telemetry cleanup: %v", err)
		}
		if err := cleanTrace(); err != nil {
			log.Warnf("telemetry cleanup: %v", err)
		}
	}, nil
}

func newRunner(cfg *config.Config) (*runner.Runner, error) {
	coord := submit.New(submit.WithTimeout(cfg.Submit.Timeout()))
	agents, err := buildAgents(cfg)
	if err != nil {
		return nil, err
	}
	opts := []runner.Option{
		runner.WithExecutorOptions(
			executor.WithPoolSize(cfg.Executor.PoolSize),
			executor.WithSubmitTimeout(cfg.Submit.Timeout()),
		),
		runner.WithFlushIntermediate(cfg.Executor.FlushIntermediate),
	}
	if _, ok := cfg.Agents[config.DefaultAgentKey]; ok {
		opts = append(opts, runner.WithDefaultAgent(config.DefaultAgentKey))
	}
	for _, a := range agents {
		opts = append(opts, runner.WithAgent(a))
	}
	return runner.New(coord, opts...)
}

// buildAgents creates one agent per configured key, in key order.
func buildAgents(cfg *config.Config) ([]*runner.Agent, error) {
	builtins := builtinTools(time.Now)
	agents := make([]*runner.Agent, 0, len(cfg.Agents))
	for _, key := range cfg.AgentKeys() {
		ac := cfg.Agents[key]
		name := cfg.Model.Name
		if ac.Model != "" {
			name = ac.Model
		}
		modelOpts := []openai.Option{openai.WithAPIKey(cfg.Model.APIKey)}
		if cfg.Model.BaseURL != "" {
			modelOpts = append(modelOpts, openai.WithBaseURL(cfg.Model.BaseURL))
		}
		reg, err := agentTools(key, ac, builtins)
		if err != nil {
			return nil, err
		}
		agents = append(agents, &runner.Agent{
			Key:         key,
			Model:       openai.New(name, modelOpts...),
			Instruction: ac.Instruction,
			Tools:       reg,
			Budget:      budget.New(ac.BudgetSpec()),
		})
	}
	if len(agents) == 0 {
		return nil, errors.New("no agents configured")
	}
	return agents, nil
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-config gateway.yaml] [-addr :8080]\n", os.Args[0])
		flag.PrintDefaults()
	}
}
