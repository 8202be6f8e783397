package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperpredict/params"
	"github.com/uhyunpark/hyperpredict/pkg/api"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperpredict/pkg/app/predict"
	"github.com/uhyunpark/hyperpredict/pkg/crypto"
	"github.com/uhyunpark/hyperpredict/pkg/keeper"
	"github.com/uhyunpark/hyperpredict/pkg/oracle"
	"github.com/uhyunpark/hyperpredict/pkg/p2p"
	"github.com/uhyunpark/hyperpredict/pkg/storage"
	"github.com/uhyunpark/hyperpredict/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	var logger *zap.Logger
	var err error
	if cfg.Node.LogFile == "" {
		logger, err = util.NewLogger(cfg.Node.LogLevel)
	} else {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "pebble"))
	if err != nil {
		sugar.Fatalw("store_open_failed", "err", err)
	}
	defer store.Close()

	wallets, err := ledger.NewWallets(store)
	if err != nil {
		sugar.Fatalw("wallets_init_failed", "err", err)
	}

	// ---- Engine ----
	payee := cfg.OraclePayee
	if payee == (common.Address{}) {
		payee = cfg.Engine.FeeOwner
	}
	or := oracle.NewManual(payee)

	engine, err := predict.New(cfg.Engine, or, wallets,
		predict.WithLogger(sugar.Named("engine")),
		predict.WithSink(store),
	)
	if err != nil {
		sugar.Fatalw("engine_init_failed", "err", err)
	}
	// escrows and books live in memory; rebuild them from the journal before serving
	if n, err := engine.Recover(store); err != nil {
		sugar.Errorw("journal_recovery_incomplete", "restored", n, "err", err)
	}

	var eventLog predict.EventSink = storage.NewNopWAL()
	if cfg.Node.EventLog != "" {
		wal, err := storage.NewFileWAL(cfg.Node.EventLog)
		if err != nil {
			sugar.Fatalw("event_log_open_failed", "path", cfg.Node.EventLog, "err", err)
		}
		defer wal.Close()
		eventLog = wal
	}
	engine.AddSink(eventLog)

	// ---- P2P ----
	if cfg.P2P.Enabled {
		gossip, err := p2p.NewLibp2pNet(ctx, p2p.Libp2pConfig{
			ListenAddr: cfg.P2P.ListenAddr,
			Bootstrap:  cfg.P2P.Bootstrap,
			Journal:    store,
			Logger:     sugar.Named("p2p"),
		})
		if err != nil {
			sugar.Fatalw("libp2p_init_failed", "err", err)
		}
		defer gossip.Close()
		gossip.OnEvents(func(_ context.Context, from peer.ID, events []predict.Event) {
			sugar.Debugw("remote_events", "peer", from.String(), "market", events[0].MarketID, "count", len(events))
		})
		engine.AddSink(gossip)
		sugar.Infow("p2p_enabled", "addrs", gossip.Addrs())
	}

	// ---- API Server ----
	verifier := crypto.NewVerifier(crypto.DomainForChain(cfg.Node.ChainID), nil)
	apiServer := api.NewServer(engine, verifier, api.Options{
		History:        store,
		Wallets:        wallets,
		Oracle:         or,
		DevMode:        cfg.Node.DevMode,
		AllowedOrigins: cfg.Node.AllowedOrigins,
		Logger:         sugar.Named("api"),
	})
	engine.AddSink(apiServer)

	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.Node.APIAddr)
		if err := apiServer.Start(ctx, cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	// ---- Keeper ----
	if cfg.Node.KeeperSchedule != "off" {
		k := keeper.New(ctx, engine, sugar.Named("keeper"))
		if _, err := k.Schedule(cfg.Node.KeeperSchedule); err != nil {
			sugar.Fatalw("keeper_schedule_invalid", "schedule", cfg.Node.KeeperSchedule, "err", err)
		}
		k.Start()
		defer k.Stop()
	}

	sugar.Infow("node_started",
		"chain_id", cfg.Node.ChainID,
		"dev_mode", cfg.Node.DevMode,
		"creation_fee", cfg.Engine.CreationFee,
		"oracle_fee", cfg.Engine.OracleFee,
		"trading_fee_bps", cfg.Engine.Params.TradingFeeBps)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_failed", "err", err)
	}
	sugar.Info("node_stopped")
}
