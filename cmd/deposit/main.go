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
	"fmt"

	"stellar-bridge-go/internal/common"
	"stellar-bridge-go/internal/config"
	"stellar-bridge-go/internal/mapping"

	"go.uber.org/zap"
)

func main() {
	asset := flag.String("asset", "", "Asset code to deposit (required)")
	account := flag.String("account", "", "Settlement-chain account to credit (required)")
	memo := flag.String("memo", "", "Optional memo on the credited account")
	memoType := flag.String("memo-type", "id", "Memo type when --memo is set (id or text)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	if *asset == "" || *account == "" {
		zap.L().Fatal("Both --asset and --account are required")
	}

	ctx := context.Background()
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	m, err := services.Resolver.ResolveDeposit(ctx,
		services.Rails.External, services.Rails.Settlement,
		*asset, *account, *memo, *memoType)
	if err != nil {
		zap.L().Fatal("Failed to resolve deposit address", zap.Error(err))
	}

	fmt.Printf("\nDeposit instructions for %s\n", *asset)
	fmt.Printf("  Send to:     %s\n", mapping.DepositAddressString(m))
	fmt.Printf("  Credited at: %s\n", mapping.PayoutInstruction(m))
}
