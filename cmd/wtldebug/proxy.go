package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/wtldebug/internal/debugserver"
	"github.com/dshills/wtldebug/internal/logging"
)

type proxyFlags struct {
	debugAddr string
	httpAddr  string
	upstream  string
	logLevel  string
	wait      bool
}

func newProxyCmd() *cobra.Command {
	var flags proxyFlags

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Run a debuggable WebDriver proxy",
		Long: `proxy forwards WebDriver traffic to an upstream endpoint and lets a
wtldebug front-end pause and step through the commands.

Connect the front-end with: wtldebug <host> <debug port>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProxy(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.debugAddr, "debug-addr", "127.0.0.1:0", "Address the front-end connects to")
	cmd.Flags().StringVar(&flags.httpAddr, "addr", "127.0.0.1:4444", "Address WebDriver clients connect to")
	cmd.Flags().StringVar(&flags.upstream, "upstream", "", "WebDriver endpoint URL (required)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "Log level")
	cmd.Flags().BoolVar(&flags.wait, "wait", false, "Wait for a front-end before accepting WebDriver traffic")
	cmd.MarkFlagRequired("upstream")
	return cmd
}

func runProxy(ctx context.Context, flags proxyFlags) error {
	upstream, err := url.Parse(flags.upstream)
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return fmt.Errorf("invalid upstream %q", flags.upstream)
	}

	logger, err := logging.New(logging.Config{Level: flags.logLevel})
	if err != nil {
		return err
	}
	defer logger.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbg, err := debugserver.Listen(flags.debugAddr,
		debugserver.WithLogger(logger.Logger),
		debugserver.WithOnStop(stop),
	)
	if err != nil {
		return fmt.Errorf("listen for debugger: %w", err)
	}
	defer dbg.Close()
	logger.Info().Str("addr", dbg.Addr().String()).Msg("debugger port open")

	if flags.wait {
		if err := dbg.WaitConnected(ctx); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              flags.httpAddr,
		Handler:           debugserver.NewProxy(upstream, dbg, logger.Logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", flags.httpAddr).Str("upstream", upstream.String()).Msg("webdriver proxy listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	// Release paused commands before draining in-flight requests.
	dbg.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
