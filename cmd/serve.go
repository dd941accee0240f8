package main

import (
	"context"
	"fmt"

	"github.com/luca-patrignani/greetme/api"
	"github.com/luca-patrignani/greetme/discovery"
	"github.com/luca-patrignani/greetme/ledger"
	"github.com/luca-patrignani/greetme/notify"
	"github.com/luca-patrignani/greetme/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the greeting ledger and its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	flags := cmd.Flags()
	flags.String("addr", "", "address the API listens on")
	flags.Bool("tls", false, "serve HTTPS with a self-signed certificate")
	flags.Bool("announce", false, "announce the server for discovery")
	bindFlags(a.v, flags, map[string]string{
		"api.addr":          "addr",
		"api.tls":           "tls",
		"discovery.enabled": "announce",
	})
	return cmd
}

func (a *app) serve(ctx context.Context) (err error) {
	rewardCfg, err := a.cfg.Reward.Ledger()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := notify.NewMetrics(reg)
	hub := notify.NewHub(notify.WithLogger(a.logger))

	opts := []ledger.Option{
		ledger.WithLogger(a.logger),
		ledger.WithListener(hub),
		ledger.WithListener(metrics),
	}
	var engine *ledger.Engine
	if a.cfg.Store.Driver == "" {
		a.logger.Warn("no store configured, greetings are kept in memory only")
		engine, err = ledger.New(ctx, rewardCfg, opts...)
	} else {
		var db *store.SQLStore
		db, err = store.Open(ctx, a.cfg.Store.Driver, a.cfg.Store.DSN)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, db.Close()) }()
		engine, err = ledger.Open(ctx, rewardCfg, db, opts...)
	}
	if err != nil {
		return err
	}
	metrics.SetBalance(engine.Status())

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Redis.Addr != "" {
		client := notify.NewRedisClient(a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
		defer func() { err = multierr.Append(err, client.Close()) }()
		sub, subErr := hub.Subscribe()
		if subErr != nil {
			return subErr
		}
		publisher := notify.NewRedisPublisher(client, a.cfg.Redis.Channel, a.logger)
		g.Go(func() error { return publisher.Run(ctx, sub.C) })
		a.logger.Info("publishing events to redis", "addr", a.cfg.Redis.Addr, "channel", a.cfg.Redis.Channel)
	}

	srv := api.NewServer(a.cfg.API.Server(), engine, hub, api.WithLogger(a.logger), api.WithGatherer(reg))
	if err := srv.Start(ctx); err != nil {
		// closing the hub ends the publisher
		hub.Close()
		return multierr.Append(err, g.Wait())
	}

	if a.cfg.Discovery.Enabled {
		ann, annErr := discovery.Announce(
			discovery.Entry{Name: a.cfg.Discovery.Name, APIURL: srv.URL()},
			discovery.WithHost(a.cfg.Discovery.Host),
			discovery.WithPortRange(a.cfg.Discovery.StartPort, a.cfg.Discovery.EndPort),
		)
		if annErr != nil {
			a.logger.Warn("discovery announcement disabled", "error", annErr)
		} else {
			defer func() { err = multierr.Append(err, ann.Close()) }()
			a.logger.Info("announced for discovery", "port", ann.Port())
		}
	}

	pterm.DefaultBox.WithTitle(pterm.LightGreen("|GREETME|")).WithTitleTopCenter().
		Println(serveSummary(srv.URL(), engine.Status()))

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.API.ShutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}
