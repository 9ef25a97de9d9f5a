package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/natsbridge"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/webui"
)

var (
	serveAddr    string
	serveNATSURL string
	serveWatch   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket service",
	Long: `Starts the generation service. Runs are started over POST /api/runs or a
websocket "start" message and stream their progress to every subscriber of
the project at /ws?project=<id>.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr = serveAddr
		}
		if cmd.Flags().Changed("nats") {
			cfg.NATS.URL = serveNATSURL
		}
		if cmd.Flags().Changed("watch-corpus") {
			cfg.Retrieval.Watch = serveWatch
		}

		logger, cleanup, err := newLogger(cfg, true)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := newRuntime(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		server, err := webui.NewServer(cfg.Server.Addr, webui.Dependencies{
			Runner:    rt.controller,
			Events:    rt.bus,
			Monitor:   rt.monitor,
			Store:     rt.store,
			Corpus:    rt.corpus,
			AllowList: rt.allow,
			Metrics:   rt.metrics.Handler(),
		}, cfg.Server.AllowedOrigins, logger.Named("http"))
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return server.ListenAndServe(gctx)
		})
		if cfg.Retrieval.Watch {
			g.Go(func() error {
				// A missing corpus directory disables watching, not serving.
				if err := rt.corpus.Watch(gctx); err != nil {
					logger.Warn("corpus watch stopped", zap.Error(err))
				}
				return nil
			})
		}
		if cfg.NATS.URL != "" {
			bridge, err := natsbridge.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger.Named("nats"))
			if err != nil {
				return err
			}
			rt.bus.AddSink(bridge)
			g.Go(func() error {
				return bridge.Run(gctx)
			})
		}

		logger.Info("ryze serving",
			zap.String("addr", cfg.Server.Addr),
			zap.String("provider", cfg.Provider.Name),
			zap.Int("corpus_size", rt.corpus.Size()))
		fmt.Fprintf(os.Stderr, "ryze listening on http://%s\n", cfg.Server.Addr)

		err = g.Wait()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if serr := rt.controller.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("in-flight runs cancelled at shutdown", zap.Error(serr))
		}
		return err
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().StringVar(&serveNATSURL, "nats", "", "NATS URL to mirror events to (overrides nats.url)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch-corpus", false, "re-index the corpus when files change")
	rootCmd.AddCommand(serveCmd)
}
