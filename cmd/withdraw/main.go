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
	asset := flag.String("asset", "", "Asset code to withdraw (required)")
	destination := flag.String("destination", "", "External-rail payout destination (required)")
	destExtra := flag.String("destination-extra", "", "Optional destination sub-address (memo or tag)")
	extraType := flag.String("extra-type", "memo", "Sub-address type when --destination-extra is set (memo or tag)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	if *asset == "" || *destination == "" {
		zap.L().Fatal("Both --asset and --destination are required")
	}

	ctx := context.Background()
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	m, err := services.Resolver.ResolveWithdrawal(ctx,
		services.Rails.External, services.Rails.Settlement,
		*asset, *destination, *destExtra, *extraType)
	if err != nil {
		zap.L().Fatal("Failed to resolve withdrawal", zap.Error(err))
	}

	fmt.Printf("\nWithdrawal instructions for %s\n", *asset)
	fmt.Printf("  Send tokens to: %s\n", mapping.DepositAddressString(m))
	fmt.Printf("  Payout at:      %s\n", mapping.PayoutInstruction(m))
}
