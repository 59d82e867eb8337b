package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/uhyunpark/orionex/params"
	"github.com/uhyunpark/orionex/pkg/api"
	"github.com/uhyunpark/orionex/pkg/app/core/order"
	"github.com/uhyunpark/orionex/pkg/app/exchange"
	"github.com/uhyunpark/orionex/pkg/app/token"
	"github.com/uhyunpark/orionex/pkg/crypto"
	"github.com/uhyunpark/orionex/pkg/events"
	"github.com/uhyunpark/orionex/pkg/host"
	"github.com/uhyunpark/orionex/pkg/metrics"
	"github.com/uhyunpark/orionex/pkg/storage"
	"github.com/uhyunpark/orionex/pkg/util"
	"go.uber.org/zap"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "verbose", cfg.Node.Verbose)

	// ---- Storage ----
	db, err := storage.Open(cfg.Store.Backend, cfg.Store.DataDir, sugar)
	if err != nil {
		sugar.Fatalw("storage_open_failed", "backend", cfg.Store.Backend, "err", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			sugar.Errorw("storage_close_failed", "err", err)
		}
	}()
	sugar.Infow("storage_opened", "backend", cfg.Store.Backend, "data_dir", cfg.Store.DataDir)

	// ---- Metrics ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// ---- Host ----
	hub := api.NewHub(sugar)
	h, err := host.New(db,
		host.WithLogger(sugar),
		host.WithMetrics(m),
		host.WithSink(events.Multi{events.LogSink{Log: sugar}, hub}),
	)
	if err != nil {
		sugar.Fatalw("host_init_failed", "err", err)
	}

	// ---- Exchange ----
	var opts []order.Option
	if !cfg.Exchange.RequireSignatures {
		opts = append(opts, order.WithoutSignatures())
		sugar.Warn("order signatures disabled")
	}
	validator, err := order.NewValidator(crypto.DefaultDomain(cfg.Exchange.Address), opts...)
	if err != nil {
		sugar.Fatalw("validator_init_failed", "err", err)
	}
	x := exchange.New(validator, exchange.WithLogger(sugar), exchange.WithMetrics(m))
	h.RegisterCallback(cfg.Exchange.Address, x.Callback())

	// ---- API Server ----
	apiServer := api.NewServer(h, x, api.Config{
		Exchange:    cfg.Exchange.Address,
		ChainID:     cfg.Exchange.ChainID,
		CORSOrigins: cfg.API.CORSOrigins,
		Faucet:      cfg.API.Faucet,
		Gatherer:    reg,
		Hub:         hub,
	}, sugar)

	// ---- Tokens ----
	if err := deployTokens(h, apiServer, cfg.Node, sugar); err != nil {
		sugar.Fatalw("token_deploy_failed", "err", err)
	}

	sugar.Infow("node_starting",
		"exchange", cfg.Exchange.Address.Hex(),
		"chain_id", cfg.Exchange.ChainID.String(),
		"height", h.Height(),
		"tokens", len(cfg.Node.Tokens),
		"require_signatures", cfg.Exchange.RequireSignatures)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if bdb, ok := db.(*storage.BadgerDB); ok {
		go bdb.RunGC(ctx, cfg.Store.GCInterval)
	}

	if cfg.Exchange.SettleInterval > 0 {
		go runSettler(ctx, h, cfg.Exchange.SettleInterval, sugar)
	}

	// Start HTTP/WebSocket server; returns once ctx is cancelled
	if err := apiServer.Start(ctx, cfg.API.Addr); err != nil {
		sugar.Errorw("api_server_failed", "err", err)
		stop()
	}
	sugar.Infow("node_stopped", "height", h.Height())
}

// deployTokens registers the configured token contracts and initializes
// them on first start, with the configured owner as minter
func deployTokens(h *host.Host, srv *api.Server, node params.Node, log *zap.SugaredLogger) error {
	for _, t := range node.Tokens {
		tok := token.New(t.Name, t.Symbol, t.Decimals)
		h.RegisterToken(t.Address, tok)
		srv.RegisterToken(t.Address, tok)

		err := h.Invoke("init", t.Address, node.Owner, nil, func(inv *host.Invocation) error {
			return tok.Init(inv)
		})
		switch {
		case errors.Is(err, token.ErrAlreadyInitialized):
			log.Debugw("token_already_deployed", "address", t.Address.Hex(), "symbol", t.Symbol)
		case err != nil:
			return err
		default:
			log.Infow("token_deployed", "address", t.Address.Hex(), "symbol", t.Symbol, "owner", node.Owner.Hex())
		}
	}
	return nil
}

// runSettler delivers queued token transfers every interval
func runSettler(ctx context.Context, h *host.Host, every time.Duration, log *zap.SugaredLogger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := h.SettleAll()
			if err != nil {
				log.Errorw("settle_failed", "err", err)
				continue
			}
			if n > 0 {
				log.Infow("transfers_settled", "count", n, "height", h.Height())
			}
		}
	}
}
