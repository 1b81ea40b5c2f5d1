package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/unicitynetwork/uce/config"
	"github.com/unicitynetwork/uce/eventbus"
	"github.com/unicitynetwork/uce/internal/observability"
	"github.com/unicitynetwork/uce/system"
	"github.com/unicitynetwork/uce/transport"
)

func newRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Starts a node and registers it with the configured hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags)
		},
	}
	flags.addRunFlags(cmd)
	return cmd
}

func run(ctx context.Context, flags *runFlags) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	registry := prometheus.NewRegistry()
	tp := sdktrace.NewTracerProvider()
	mp := sdkmetric.NewMeterProvider()
	obs := observability.New(log, tp, mp, registry)

	peers, err := config.LoadPeers(flags.ConfigFile)
	if err != nil {
		return fmt.Errorf("load peers: %w", err)
	}
	hub, err := config.LoadHub(flags.HubFile)
	if err != nil {
		return fmt.Errorf("load hub: %w", err)
	}
	info, err := config.BuildInfo(peers, hub, flags.ID)
	if err != nil {
		return fmt.Errorf("resolve self: %w", err)
	}

	bus := eventbus.New(obs)
	pl := transport.New(bus, info, obs)
	bus.Register(pl)

	driver := system.NewDriver(ctx, bus, info.Self, info.Hub, flags.BaseDelta, obs)
	bus.Register(driver)

	metricsSrv := &http.Server{
		Addr:    flags.MetricsAddr,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		bus.Run(ctx)
		return nil
	})

	g.Go(func() error {
		return pl.ListenAndServe(ctx)
	})

	g.Go(func() error {
		driver.Start()
		<-ctx.Done()
		return nil
	})

	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return metricsSrv.Close()
	})

	log.InfoContext(ctx, "ucnode started", slog.String("self", info.Self.Addr()), slog.String("hub", info.Hub.Addr()),
		slog.String("metrics", flags.MetricsAddr))

	runErr := g.Wait()
	if shutdownErr := obs.Shutdown(context.Background()); shutdownErr != nil {
		log.Error("observability shutdown", slog.Any("error", shutdownErr))
	}
	if runErr != nil {
		return fmt.Errorf("node exited: %w", runErr)
	}
	return nil
}
