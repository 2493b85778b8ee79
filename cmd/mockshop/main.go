// Command mockshop serves an in-memory e-commerce gateway for trying
// shopload locally.
//
// Usage:
//
//	mockshop [--addr localhost:8080] [--fail-rate 0.05] [--latency 50ms]
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shopload/internal/logging"
	"shopload/mockshop"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr     string
		opts     mockshop.Options
		logLevel string
	)
	cmd := &cobra.Command{
		Use:           "mockshop",
		Short:         "In-memory e-commerce gateway for load test rehearsals",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.FailRate < 0 || opts.FailRate > 1 {
				return fmt.Errorf("--fail-rate must be between 0 and 1, got %g", opts.FailRate)
			}
			log, err := logging.New(logLevel, "console")
			if err != nil {
				return err
			}
			defer log.Sync()
			opts.Logger = log

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, addr, mockshop.NewServer(opts), log)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", "localhost:8080", "address to listen on")
	flags.IntVar(&opts.Products, "products", 20, "number of products in the catalogue")
	flags.IntVar(&opts.Users, "users", 10, "number of registered users")
	flags.Float64Var(&opts.FailRate, "fail-rate", 0, "fraction of requests answered with 500 (0..1)")
	flags.DurationVar(&opts.Latency, "latency", 0, "maximum random delay added to each request")
	flags.Int64Var(&opts.Seed, "seed", time.Now().UnixNano(), "random seed for latency and failures")
	flags.StringVar(&logLevel, "log-level", "info", "log level")
	return cmd
}

func serve(ctx context.Context, addr string, shop *mockshop.Server, log *zap.Logger) error {
	srv := &http.Server{Addr: addr, Handler: shop.Handler(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info("mockshop listening",
		zap.String("url", "http://"+addr),
		zap.Strings("services", []string{"product-service", "user-service", "favourite-service", "order-service", "payment-service"}),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", zap.Any("stats", shop.Stats()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
