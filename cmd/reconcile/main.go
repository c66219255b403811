package main

import (
	"context"
	"flag"
	"fmt"

	"custodial-wallet-go/internal/common"
	"custodial-wallet-go/internal/config"
	"custodial-wallet-go/internal/models"

	"go.uber.org/zap"
)

func printReport(r models.ReconciliationReport, isLast bool) {
	symbol := common.BoxPrefix(isLast)
	state := "OK"
	switch {
	case r.Error != "":
		state = "ERROR"
	case !r.Matched:
		state = "MISMATCH"
	}
	fmt.Printf("%s %-8s %-24s ledger: %20s  custody: %20s  diff: %15s  %s\n",
		symbol,
		r.Asset,
		r.Network,
		r.LedgerTotal.String(),
		r.CustodianBalance.String(),
		r.Difference.String(),
		state)
	if r.Error != "" {
		fmt.Printf("%s   %s\n", common.BoxDetailPrefix(isLast), r.Error)
	}
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	emailFlag := flag.String("email", "", "Also recompute balances for this user (optional)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if *emailFlag != "" {
		users, err := common.InitializeUsers(ctx, services.DbService, *emailFlag, logger)
		if err != nil {
			logger.Fatal("Failed to look up user", zap.Error(err))
		}
		for _, user := range users {
			balances, err := services.ApiService.ReconcileUser(ctx, user.Id)
			if err != nil {
				logger.Fatal("Failed to reconcile user", zap.String("user_id", user.Id), zap.Error(err))
			}
			common.PrintHeader(fmt.Sprintf("USER BALANCES: %s (%s)", user.Name, user.Email), common.DefaultWidth)
			for i, b := range balances {
				fmt.Printf("%s %-15s: %20s\n", common.BoxPrefix(i == len(balances)-1), b.Asset, b.Balance.String())
			}
		}
	}

	reports, err := services.ApiService.ReconcileCustody(ctx)
	if err != nil {
		logger.Fatal("Failed to reconcile custody", zap.Error(err))
	}

	common.PrintHeader(fmt.Sprintf("CUSTODY RECONCILIATION (%s)", services.Custodian.Name()), common.WideWidth)
	mismatched := 0
	for i, r := range reports {
		if !r.Matched {
			mismatched++
		}
		printReport(r, i == len(reports)-1)
	}
	common.PrintFooter(fmt.Sprintf("SUMMARY: %d assets checked, %d mismatched", len(reports), mismatched), common.WideWidth)

	logger.Info("Reconciliation completed",
		zap.Int("assets", len(reports)),
		zap.Int("mismatched", mismatched))
}
