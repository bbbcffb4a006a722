package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/oceanbase/conceptgraph-go/pkg/core"
	"github.com/oceanbase/conceptgraph-go/pkg/logger"
	"github.com/oceanbase/conceptgraph-go/pkg/protocol"
)

func (a *app) serveCmd() *cobra.Command {
	var listen, metrics string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the graph over the binary protocol",
		Long: `serve hosts an in-process graph and answers protocol requests on the
listen address. Prometheus metrics are exposed on /metrics when a metrics
address is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				a.cfg.ListenAddr = listen
			}
			if metrics != "" {
				a.cfg.MetricsAddr = metrics
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a.cfg, nil)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Protocol listen address (overrides CONCEPTGRAPH_LISTEN_ADDR)")
	cmd.Flags().StringVar(&metrics, "metrics", "", "Metrics listen address (overrides CONCEPTGRAPH_METRICS_ADDR)")
	return cmd
}

// serve runs the protocol server until ctx ends. When ready is not nil it
// receives the protocol listener address once the server accepts.
func serve(ctx context.Context, cfg *core.Config, ready chan<- net.Addr) error {
	// The server always hosts the graph itself.
	cfg.Mode = core.ModeLocal

	mode := cfg.LogMode
	if mode == "" {
		mode = "prod"
	}
	log, err := logger.New(mode)
	if err != nil {
		return err
	}
	defer log.Sync()

	client, err := core.NewClient(ctx, cfg, core.WithLogger(log))
	if err != nil {
		return err
	}
	defer client.Close()

	srv, err := protocol.NewServer(client, protocol.WithServerLogger(log.With("component", "protocol")))
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Info("serving concept graph", "addr", ln.Addr().String(), "version", core.Version)
	if ready != nil {
		ready <- ln.Addr()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		return srv.Close()
	})
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		hs := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		log.Info("serving metrics", "addr", cfg.MetricsAddr)
		g.Go(func() error {
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(sctx)
		})
	}

	err = g.Wait()
	log.Info("server stopped")
	return err
}
