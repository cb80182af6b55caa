package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/minhopark/escrowbook/params"
	"github.com/minhopark/escrowbook/pkg/api"
	"github.com/minhopark/escrowbook/pkg/engine"
	"github.com/minhopark/escrowbook/pkg/ledger"
	"github.com/minhopark/escrowbook/pkg/storage"
	"github.com/minhopark/escrowbook/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLogger(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	admin := common.HexToAddress(cfg.Engine.AdminAddr)
	custody := common.HexToAddress(cfg.Engine.CustodyAddr)

	// ---- Journal ----
	store, err := storage.Open(cfg.Node.DataDir)
	if err != nil {
		sugar.Fatalw("journal_open_failed", "path", cfg.Node.DataDir, "err", err)
	}
	defer store.Close()

	// ---- Ledger adapters ----
	// The dev node settles against in-memory ledgers. A production host
	// injects adapters backed by its real asset and currency ledgers.
	assets := ledger.NewMemoryAssetLedger(custody)
	bank := ledger.NewMemoryBank(custody)

	// ---- Engine ----
	eng, err := engine.New(engine.Config{
		FeePerMille:  cfg.Engine.FeePerMille,
		MaxBatchSize: cfg.Engine.MaxBatchSize,
		Custody:      custody,
		FeeRecipient: admin,
	}, assets, bank, engine.SingleAdmin{Addr: admin}, store, sugar)
	if err != nil {
		sugar.Fatalw("engine_init_failed", "err", err)
	}

	sells, err := store.LoadOrders(engine.Sell)
	if err != nil {
		sugar.Fatalw("journal_recovery_failed", "side", "sell", "err", err)
	}
	buys, err := store.LoadOrders(engine.Buy)
	if err != nil {
		sugar.Fatalw("journal_recovery_failed", "side", "buy", "err", err)
	}
	if err := eng.Restore(sells, buys); err != nil {
		sugar.Fatalw("engine_restore_failed", "err", err)
	}
	sugar.Infow("engine_restored", "sell_orders", len(sells), "buy_orders", len(buys),
		"fee_per_mille", eng.FeePerMille(), "max_batch", eng.MaxBatchSize())

	// ---- Dev faucet ----
	// DEV_FAUCET=0xabc...,0xdef... seeds each listed account with currency.
	if accounts := os.Getenv("DEV_FAUCET"); accounts != "" {
		seed := new(big.Int).Mul(big.NewInt(1_000_000), engine.Scale)
		for _, a := range splitAddrs(accounts) {
			bank.Deposit(a, seed)
			sugar.Infow("faucet_funded", "account", a.Hex(), "amount", seed.String())
		}
	}

	// ---- API server ----
	apiServer := api.NewServer(eng, bank, store, sugar)
	eng.OnEvent = apiServer.BroadcastEvent

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := apiServer.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("bookd_started", "api_addr", cfg.Node.APIAddr, "admin", admin.Hex(), "custody", custody.Hex())
	<-ctx.Done()
	sugar.Info("bookd_shutting_down")
}

func splitAddrs(s string) []common.Address {
	var out []common.Address
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if common.IsHexAddress(part) {
			out = append(out, common.HexToAddress(part))
		}
	}
	return out
}
