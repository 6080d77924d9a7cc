// Copyright 2024-2026 GAGOS Project
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/jordigilh/ocpaggregator/internal/checkpoint"
	"github.com/jordigilh/ocpaggregator/internal/config"
	"github.com/jordigilh/ocpaggregator/internal/dbwriter"
	"github.com/jordigilh/ocpaggregator/internal/httpserver"
	"github.com/jordigilh/ocpaggregator/internal/metrics"
	"github.com/jordigilh/ocpaggregator/internal/objectstore"
	"github.com/jordigilh/ocpaggregator/internal/ocperrors"
	"github.com/jordigilh/ocpaggregator/internal/orchestrator"
	"github.com/jordigilh/ocpaggregator/internal/scheduler"
	"github.com/jordigilh/ocpaggregator/internal/sidetables"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var (
		configPath   = pflag.String("config", "", "path to the TOML configuration file")
		manifestPath = pflag.String("manifest", "", "path to a YAML run manifest")
		truncate     = pflag.Bool("truncate", false, "delete existing rows for this run's identity before writing")
		serve        = pflag.Bool("serve", false, "run the HTTP control surface and scheduler instead of a single run")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		exitWithCategory(err)
	}

	manifest, err := config.LoadManifest(*manifestPath)
	if err != nil {
		exitWithCategory(err)
	}
	config.ApplyManifest(&cfg, manifest)
	if *truncate {
		cfg.Truncate = true
	}

	orch, cleanup, err := buildOrchestrator(cfg)
	if err != nil {
		exitWithCategory(err)
	}
	defer cleanup()

	log.Info().Str("version", version).Str("build_time", buildTime).Msg("ocpaggregator starting")

	if *serve {
		runServer(orch, cfg)
		return
	}

	ctx := context.Background()
	if _, err := orch.Run(ctx, cfg.Identity); err != nil {
		exitWithCategory(err)
	}
}

func buildOrchestrator(cfg config.Config) (*orchestrator.Orchestrator, func(), error) {
	osClient, err := objectstore.NewClient(objectstore.Config{
		Endpoint:        cfg.ObjectStoreEndpoint,
		Region:          cfg.ObjectStoreRegion,
		AccessKeyID:     cfg.ObjectStoreAccessKeyID,
		SecretAccessKey: cfg.ObjectStoreSecretAccessKey,
		UseSSL:          cfg.ObjectStoreUseSSL,
		Bucket:          cfg.ObjectStoreBucket,
		RetryAttempts:   cfg.ObjectStoreRetryAttempts,
	})
	if err != nil {
		return nil, nil, err
	}

	db, err := dbwriter.Open(dbwriter.Config{
		Host:     cfg.DatabaseHost,
		Port:     cfg.DatabasePort,
		User:     cfg.DatabaseUser,
		Password: cfg.DatabasePassword,
		Database: cfg.DatabaseName,
		SSLMode:  cfg.DatabaseSSLMode,
		Schema:   cfg.DatabaseSchema,
	})
	if err != nil {
		return nil, nil, err
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			db.Close()
			return nil, nil, ocperrors.NewConfig("invalid redis url", err)
		}
		redisClient = redis.NewClient(opts)
	}

	sideTables := sidetables.New(db.RawDB(), cfg.DatabaseSchema, redisClient)

	cp, err := checkpoint.Open(cfg.CheckpointPath)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	metricsReg := metrics.New()

	orch := &orchestrator.Orchestrator{
		Config:      cfg,
		ObjectStore: osClient,
		DB:          db,
		SideTables:  sideTables,
		Checkpoint:  cp,
		Metrics:     metricsReg,
	}

	cleanup := func() {
		cp.Close()
		db.Close()
		if redisClient != nil {
			redisClient.Close()
		}
	}
	return orch, cleanup, nil
}

func runServer(orch *orchestrator.Orchestrator, cfg config.Config) {
	sched := scheduler.New(orch, cfg.Identity)
	if err := sched.Start(cfg.Schedule); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer sched.Stop()

	srv := httpserver.New(orch, orch.Metrics)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down")
		if err := srv.Shutdown(); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	log.Info().Str("address", cfg.HTTPListenAddr).Msg("http control surface listening")
	if err := srv.Listen(cfg.HTTPListenAddr); err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func exitWithCategory(err error) {
	category := ocperrors.CategoryOf(err)
	log.Error().Err(err).Str("category", string(category)).Msg("ocpaggregator run failed")

	switch category {
	case ocperrors.CategoryConfig:
		os.Exit(2)
	case ocperrors.CategoryConnectivity:
		os.Exit(3)
	case ocperrors.CategorySchema:
		os.Exit(4)
	case ocperrors.CategoryData:
		os.Exit(5)
	case ocperrors.CategoryWrite:
		os.Exit(6)
	default:
		os.Exit(1)
	}
}
