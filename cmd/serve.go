package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sku-lookup/internal/category"
	"github.com/sells-group/sku-lookup/internal/monitoring"
	"github.com/sells-group/sku-lookup/internal/pricing"
	"github.com/sells-group/sku-lookup/internal/resolver"
	"github.com/sells-group/sku-lookup/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the lookup API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initLookup(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		// bg holds the checker and the shutdown goroutine; both must finish
		// before env.Close drains the resolver and closes the store.
		var bg sync.WaitGroup
		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store, env.Breakers),
				monitoring.NewAlerter(cfg.Monitoring),
				env.Writer,
				cfg.Monitoring,
			)
			bg.Add(1)
			go func() {
				defer bg.Done()
				checker.Run(ctx)
			}()
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newAPI(env).Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		bg.Add(1)
		go func() {
			defer bg.Done()
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		err = srv.ListenAndServe()
		stop()
		bg.Wait()
		if err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newAPI(env *lookupEnv) *server.Server {
	return server.New(server.Deps{
		Resolver:        env.Resolver,
		Writer:          env.Writer,
		Store:           env.Store,
		Pricer:          pricing.NewSuggester(cfg.Pricing.Margins, cfg.Pricing.DefaultMargin),
		Categories:      category.RetailCategories(),
		Metrics:         env.Metrics.Handler(),
		WithAttribution: resolver.WithAttribution,
		CORSOrigins:     cfg.Server.CORSOrigins,
	})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
