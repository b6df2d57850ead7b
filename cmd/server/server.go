package server

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.wirecache.dev/wirecache/config"
	"go.wirecache.dev/wirecache/diagnostics"
	"go.wirecache.dev/wirecache/exchange"
	"go.wirecache.dev/wirecache/membership"
	"go.wirecache.dev/wirecache/order"
	"go.wirecache.dev/wirecache/rebalance"
	"go.wirecache.dev/wirecache/spec/cluster"
	"go.wirecache.dev/wirecache/storage/loopback"
	"go.wirecache.dev/wirecache/transport/memchan"
	"go.wirecache.dev/wirecache/util"

	"github.com/go-chi/chi/v5"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func Generate() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "run a single-process development cluster",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to the node YAML configuration",
			},
			&cli.IntFlag{
				Name:  "nodes",
				Value: 3,
				Usage: "number of in-process nodes",
			},
		},
		Action: run,
	}
}

type devNode struct {
	member  cluster.Member
	manager *exchange.Manager
	engine  *loopback.Engine
}

func run(ctx *cli.Context) error {
	logger := ctx.App.Metadata["logger"].(*zap.Logger)

	cfg := config.Default()
	if path := ctx.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	count := ctx.Int("nodes")
	if count < 1 {
		return fmt.Errorf("at least one node is required")
	}

	caches := make([]exchange.CacheConfig, 0, len(cfg.Caches))
	for _, c := range cfg.Caches {
		caches = append(caches, exchange.CacheConfig{
			Name:       c.Name,
			Partitions: c.Partitions,
			Backups:    c.Backups,
		})
	}

	orders := order.NewService(logger.With(zap.String("component", "order")))
	roster := membership.NewRoster(logger.With(zap.String("component", "membership")), orders)
	wire := memchan.NewCluster(logger.With(zap.String("component", "memchan")))

	nodes := make([]*devNode, 0, count)
	defer func() {
		for i := len(nodes) - 1; i >= 0; i-- {
			roster.Leave(nodes[i].member.ID)
			nodes[i].manager.Stop()
		}
	}()

	for i := 1; i <= count; i++ {
		id := cluster.NodeID(i)
		endpoint := wire.Join(id)
		member, err := roster.Admit(id, fmt.Sprintf("%s/node/%d", cfg.ListenAddress, i))
		if err != nil {
			return err
		}

		engine := loopback.NewEngine(logger.With(zap.String("component", "engine"), zap.Uint64("node", uint64(id))))
		trigger, err := rebalance.NewTrigger(rebalance.TriggerConfig{
			Logger: logger.With(zap.String("component", "rebalance")),
			Self:   id,
			Engine: engine,
		})
		if err != nil {
			return err
		}

		manager, err := exchange.NewManager(exchange.ManagerConfig{
			Logger:             logger.With(zap.String("component", "exchange")),
			Self:               member,
			Membership:         roster,
			Channel:            endpoint,
			Orders:             orders,
			Trigger:            trigger,
			Caches:             caches,
			ExchangeTimeout:    cfg.Exchange.Timeout,
			StallTimeout:       cfg.Exchange.StallTimeout,
			ClockDeltaInterval: cfg.Exchange.ClockDeltaInterval,
			Workers:            cfg.Exchange.Workers,
		})
		if err != nil {
			return err
		}
		trigger.Bind(manager)
		engine.Bind(trigger)
		if err := manager.Start(); err != nil {
			return err
		}
		nodes = append(nodes, &devNode{member: member, manager: manager, engine: engine})
	}

	router := chi.NewRouter()
	for i, node := range nodes {
		router.Mount(fmt.Sprintf("/node/%d", i+1), diagnostics.Handler(node.manager, roster))
	}
	httpServer := &http.Server{
		Addr:     cfg.StatusAddress,
		Handler:  router,
		ErrorLog: util.GetStdLogger(logger, "status"),
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Status server exited", zap.Error(err))
		}
	}()
	defer httpServer.Close()

	logger.Info("Development cluster running",
		zap.Int("nodes", count),
		zap.String("status", cfg.StatusAddress),
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Context.Done():
	}
	logger.Info("Shutting down development cluster")
	return nil
}
