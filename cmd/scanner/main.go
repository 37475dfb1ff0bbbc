// Command scanner hosts the chain scanning engine: one supervised worker
// per (network, event category, contract scope), sharing a ledger, a Redis
// backed coordination store and an ops endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mintra/marketscan/alert"
	"github.com/mintra/marketscan/api"
	"github.com/mintra/marketscan/bus"
	"github.com/mintra/marketscan/chain"
	"github.com/mintra/marketscan/events"
	"github.com/mintra/marketscan/internal/config"
	"github.com/mintra/marketscan/internal/logger"
	"github.com/mintra/marketscan/kv"
	"github.com/mintra/marketscan/ledger"
	"github.com/mintra/marketscan/metrics"
	"github.com/mintra/marketscan/reconcile"
	"github.com/mintra/marketscan/scan"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scanner: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(&logger.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Format})
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := ledger.NewPebbleStore(&ledger.Config{
		Path:   cfg.Ledger.Path,
		Logger: logger.WithComponent(log, "ledger"),
	})
	if err != nil {
		return err
	}
	defer store.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	shared := kv.NewRedisStoreFromClient(redisClient)
	producer := bus.NewProducer(redisClient, logger.WithComponent(log, "bus"))

	var notifier alert.Notifier = alert.Nop{}
	if cfg.Alerts.SlackWebhookURL != "" {
		slack, err := alert.NewSlackNotifier(&alert.SlackConfig{
			WebhookURL: cfg.Alerts.SlackWebhookURL,
			Channel:    cfg.Alerts.Channel,
		}, log)
		if err != nil {
			return err
		}
		notifier = slack
	}

	met := metrics.New("")

	eng := &engine{
		cfg:         cfg,
		store:       store,
		checkpoints: scan.NewCheckpointStore(store),
		heights:     scan.NewHeightCache(shared),
		quota:       scan.NewImportQuota(shared),
		faults:      scan.NewFaultCounter(shared),
		notifier:    notifier,
		producer:    producer,
		metrics:     met,
		log:         log,
	}

	var wg sync.WaitGroup
	started := 0
	for i := range cfg.Networks {
		n, err := eng.startNetwork(ctx, &wg, &cfg.Networks[i])
		if err != nil {
			return err
		}
		started += n
	}
	log.Info("scanner started", zap.Int("workers", started))

	if cfg.Ops.Enabled {
		ops := api.NewServer(&api.Config{Addr: cfg.Ops.Addr, Logger: logger.WithComponent(log, "ops")})
		go func() {
			if err := ops.Start(); err != nil {
				log.Error("ops server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ops.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")
	wg.Wait()
	return nil
}

// engine holds everything the per-scope workers share
type engine struct {
	cfg         *config.Config
	store       ledger.Store
	checkpoints *scan.CheckpointStore
	heights     *scan.HeightCache
	quota       *scan.ImportQuota
	faults      *scan.FaultCounter
	notifier    alert.Notifier
	producer    *bus.Producer
	metrics     *metrics.Metrics
	log         *zap.Logger
}

// startNetwork seeds the network's ledger rows and spins up every worker
// its configuration implies
func (e *engine) startNetwork(ctx context.Context, wg *sync.WaitGroup, net *config.NetworkConfig) (int, error) {
	if err := e.seedNetwork(ctx, net); err != nil {
		return 0, fmt.Errorf("network %s: %w", net.Name, err)
	}

	client, err := chain.NewClient(&chain.Config{
		Endpoint:          net.RPCEndpoint,
		Timeout:           30 * time.Second,
		RequestsPerSecond: net.RequestsPerSecond,
		Logger:            logger.WithComponent(e.log, "chain").With(zap.String("network", net.Name)),
	})
	if err != nil {
		return 0, fmt.Errorf("network %s: %w", net.Name, err)
	}

	started := 0
	launch := func(spec workerSpec) error {
		w, err := e.buildWorker(client, net, spec)
		if err != nil {
			return fmt.Errorf("network %s: %s worker for %s: %w", net.Name, spec.category, spec.scopeContract(), err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.metrics.WorkersRunning.WithLabelValues(net.Name).Inc()
			defer e.metrics.WorkersRunning.WithLabelValues(net.Name).Dec()
			scan.Supervise(ctx, scan.SupervisorConfig{
				Name:     fmt.Sprintf("%s/%s", spec.category, spec.scopeContract()),
				Network:  net.Name,
				Backoff:  scan.DefaultBackoff(),
				Faults:   e.faults,
				Notifier: e.notifier,
				Logger:   e.log,
				Metrics:  e.metrics,
			}, w.Run)
		}()
		started++
		return nil
	}

	// Factory deploys, one scope per standard
	for standard, factory := range net.FactoryAddresses {
		if err := launch(workerSpec{
			category: events.CategoryDeploy,
			standard: events.Standard(standard),
			factory:  factory,
		}); err != nil {
			return started, err
		}
	}

	// Exchange trades, one scope per network
	if err := launch(workerSpec{category: events.CategoryBuy}); err != nil {
		return started, err
	}

	// Promotions, when the contract is deployed on this network
	if net.PromotionAddress != "" {
		if err := launch(workerSpec{category: events.CategoryPromotion}); err != nil {
			return started, err
		}
	}

	// Per-collection scopes
	for _, col := range net.Collections {
		if !col.Imported {
			if err := launch(workerSpec{
				category:   events.CategoryMint,
				standard:   events.Standard(col.Standard),
				collection: col.Address,
			}); err != nil {
				return started, err
			}
		}
		if err := launch(workerSpec{
			category:   events.CategoryTransfer,
			standard:   events.Standard(col.Standard),
			collection: col.Address,
			importing:  col.Importing,
		}); err != nil {
			return started, err
		}
		if err := launch(workerSpec{
			category:   events.CategoryApproval,
			standard:   events.Standard(col.Standard),
			collection: col.Address,
		}); err != nil {
			return started, err
		}
	}

	return started, nil
}

// workerSpec describes one scanner scope before wiring
type workerSpec struct {
	category   events.Category
	standard   events.Standard
	collection string
	factory    string
	importing  bool
}

func (s workerSpec) scopeContract() string {
	switch s.category {
	case events.CategoryDeploy:
		return s.factory
	case events.CategoryBuy, events.CategoryPromotion:
		return "-"
	default:
		return s.collection
	}
}

func (e *engine) buildWorker(client *chain.Client, net *config.NetworkConfig, spec workerSpec) (*scan.Worker, error) {
	source, err := chain.NewEVMSource(client, chain.SourceConfig{
		Category:         spec.category,
		Standard:         spec.standard,
		Contract:         spec.collection,
		FactoryAddress:   spec.factory,
		ExchangeAddress:  net.ExchangeAddress,
		PromotionAddress: net.PromotionAddress,
	}, logger.WithComponent(e.log, "source"))
	if err != nil {
		return nil, err
	}

	hlog := logger.WithComponent(e.log, "reconcile")
	registry := reconcile.NewRegistry()
	switch spec.category {
	case events.CategoryDeploy:
		registry.Register(spec.category, reconcile.NewDeployHandler(e.store, net.Name, spec.standard, hlog, e.metrics))
	case events.CategoryMint:
		registry.Register(spec.category, reconcile.NewMintHandler(e.store, spec.collection, hlog, e.metrics))
	case events.CategoryTransfer:
		registry.Register(spec.category, reconcile.NewTransferHandler(e.store, client, net.ExchangeAddress, spec.collection, hlog, e.metrics))
	case events.CategoryBuy:
		registry.Register(spec.category, reconcile.NewBuyHandler(e.store, hlog, e.metrics))
	case events.CategoryApproval:
		registry.Register(spec.category, reconcile.NewApprovalHandler(e.store, net.ExchangeAddress, spec.collection, hlog))
	case events.CategoryPromotion:
		registry.Register(spec.category, reconcile.NewPromotionHandler(
			e.store, net.PromotionPackages, &busActivator{producer: e.producer}, hlog, e.metrics))
	}

	deployBlock, err := e.deployBlock(spec.collection)
	if err != nil {
		return nil, err
	}

	sleep := e.cfg.Scanner.Sleep
	if spec.category == events.CategoryApproval && e.cfg.Scanner.ApprovalSleep > 0 {
		sleep = e.cfg.Scanner.ApprovalSleep
	}

	cfg := scan.WorkerConfig{
		Scope: scan.Scope{
			Network:  net.Name,
			Category: string(spec.category),
			Contract: spec.scopeContract(),
		},
		Source:         source,
		Registry:       registry,
		Checkpoints:    e.checkpoints,
		Heights:        e.heights,
		DeployBlock:    deployBlock,
		FinalityMargin: net.FinalityMargin,
		BlockWindow:    e.cfg.Scanner.BlockWindow,
		Sleep:          sleep,
		Logger:         logger.WithComponent(e.log, "scan"),
		Metrics:        e.metrics,
	}

	if spec.importing {
		cfg.ImportMode = true
		cfg.Quota = e.quota
		cfg.QuotaLimit = net.DailyImportRequests
		cfg.MarkSynced = e.markImported(spec.collection)
	}

	return scan.NewWorker(cfg)
}

// seedNetwork creates the ledger rows the configuration declares, without
// touching rows the scanners already maintain
func (e *engine) seedNetwork(ctx context.Context, net *config.NetworkConfig) error {
	return e.store.Update(ctx, func(tx ledger.Tx) error {
		for _, col := range net.Collections {
			if _, err := tx.GetCollection(col.Address); err == nil {
				continue
			} else if err != ledger.ErrNotFound {
				return err
			}
			status := ledger.CollectionCommitted
			if col.Importing {
				status = ledger.CollectionImporting
			}
			if err := tx.PutCollection(&ledger.Collection{
				Name:        col.Name,
				Address:     col.Address,
				Network:     net.Name,
				Standard:    col.Standard,
				Status:      status,
				DeployBlock: col.DeployBlock,
				Imported:    col.Imported,
			}); err != nil {
				return err
			}
			e.log.Info("collection seeded",
				zap.String("address", col.Address),
				zap.String("network", net.Name))
		}

		for _, cur := range net.Currencies {
			if _, err := tx.GetCurrency(cur.Address); err == nil {
				continue
			} else if err != ledger.ErrNotFound {
				return err
			}
			if err := tx.PutCurrency(&ledger.Currency{
				Address:  cur.Address,
				Symbol:   cur.Symbol,
				Decimals: cur.Decimals,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// deployBlock reads a collection's deploy block for the checkpoint fallback
func (e *engine) deployBlock(collection string) (uint64, error) {
	if collection == "" {
		return 0, nil
	}
	var block uint64
	err := e.store.View(context.Background(), func(tx ledger.Tx) error {
		col, err := tx.GetCollection(collection)
		if err == ledger.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		block = col.DeployBlock
		return nil
	})
	return block, err
}

// markImported flips an importing collection to committed once its transfer
// worker has caught up with the chain head
func (e *engine) markImported(collection string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return e.store.Update(ctx, func(tx ledger.Tx) error {
			col, err := tx.GetCollection(collection)
			if err == ledger.ErrNotFound {
				return nil
			}
			if err != nil {
				return err
			}
			if col.Status != ledger.CollectionImporting {
				return nil
			}
			col.Status = ledger.CollectionCommitted
			e.log.Info("collection import finished", zap.String("address", collection))
			return tx.PutCollection(col)
		})
	}
}

// busActivator kicks off promotion activation through the event bus
type busActivator struct {
	producer *bus.Producer
}

type promotionStarted struct {
	PromotionID uint64 `json:"promotion_id"`
	Collection  string `json:"collection_address"`
	TokenID     string `json:"token_id"`
	Package     uint64 `json:"package"`
}

func (a *busActivator) Activate(ctx context.Context, p *ledger.Promotion) error {
	return a.producer.Publish(ctx, "promotions", promotionStarted{
		PromotionID: p.ID,
		Collection:  p.CollectionAddress,
		TokenID:     p.InternalID,
		Package:     p.Package,
	}, "")
}
