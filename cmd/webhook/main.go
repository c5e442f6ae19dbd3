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
	"crypto/subtle"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"stellar-bridge-go/internal/common"
	"stellar-bridge-go/internal/config"
	"stellar-bridge-go/internal/pipeline"
	"stellar-bridge-go/internal/queue"
	"stellar-bridge-go/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type notifyRequest struct {
	Hash string `json:"hash" binding:"required"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zap.L().Info("Starting notification webhook", zap.String("addr", cfg.Webhook.Addr))

	// The webhook only records and enqueues; it never touches the rails.
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	broker, err := queue.Dial(cfg.Queue)
	if err != nil {
		zap.L().Fatal("Failed to connect to broker", zap.Error(err))
	}
	defer broker.Close()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/notify/:chain", func(c *gin.Context) {
		if cfg.Webhook.Secret != "" {
			provided := c.GetHeader("X-Notify-Secret")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(cfg.Webhook.Secret)) != 1 {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
				return
			}
		}

		var req notifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		chain := c.Param("chain")

		// Record for dedup; a duplicate notification is still re-enqueued
		// so a lost job can always be replayed by renotifying.
		if err := dbService.SaveTempTransaction(c.Request.Context(), chain, req.Hash); err != nil {
			if !errors.Is(err, store.ErrDuplicateTempTransaction) {
				zap.L().Error("Failed to record notification", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
				return
			}
			zap.L().Debug("Duplicate notification",
				zap.String("chain", chain),
				zap.String("hash", req.Hash))
		}

		job := pipeline.TempTxJob{Chain: chain, Hash: req.Hash}
		if err := broker.Publish(c.Request.Context(), pipeline.QueueTempTransactions, job); err != nil {
			zap.L().Error("Failed to enqueue notification", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failure"})
			return
		}

		zap.L().Info("Notification accepted",
			zap.String("chain", chain),
			zap.String("hash", req.Hash))
		c.JSON(http.StatusAccepted, gin.H{"chain": chain, "hash": req.Hash})
	})

	server := &http.Server{
		Addr:    cfg.Webhook.Addr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("Webhook server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zap.L().Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Forced shutdown", zap.Error(err))
	}
	zap.L().Info("Shutdown complete")
}
