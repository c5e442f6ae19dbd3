/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"stellar-bridge-go/internal/common"
	"stellar-bridge-go/internal/config"
	"stellar-bridge-go/internal/pipeline"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	intakeWorkers := flag.Int("intake-workers", 4, "Parallelism for inbound notification processing")
	stageWorkers := flag.Int("stage-workers", 1, "Parallelism for the build/sign/submit stages")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zap.L().Info("Starting bridge worker")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return services.Broker.Consume(groupCtx, pipeline.QueueTempTransactions, *intakeWorkers, services.Intake.Handle)
	})
	group.Go(func() error {
		return services.Broker.Consume(groupCtx, pipeline.QueueBuild, *stageWorkers, services.Builder.Handle)
	})
	group.Go(func() error {
		return services.Broker.Consume(groupCtx, pipeline.QueueSign, *stageWorkers, services.Signer.Handle)
	})
	group.Go(func() error {
		return services.Broker.Consume(groupCtx, pipeline.QueueSubmit, *stageWorkers, services.Submitter.Handle)
	})
	group.Go(func() error {
		return services.Batcher.Run(groupCtx)
	})

	zap.L().Info("All stages running, press Ctrl+C to stop")

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		zap.L().Fatal("Worker stopped unexpectedly", zap.Error(err))
	}
	zap.L().Info("Shutdown complete")
}
