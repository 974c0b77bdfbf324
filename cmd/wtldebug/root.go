package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/wtldebug/internal/analytics"
	"github.com/dshills/wtldebug/internal/config"
	"github.com/dshills/wtldebug/internal/console"
	"github.com/dshills/wtldebug/internal/debug"
	"github.com/dshills/wtldebug/internal/feed"
	"github.com/dshills/wtldebug/internal/logging"
	"github.com/dshills/wtldebug/internal/metrics"
)

// rootFlags holds command line overrides. Zero values leave the loaded
// configuration alone.
type rootFlags struct {
	configPath  string
	logLevel    string
	logFile     string
	readTimeout time.Duration
	feedAddr    string
	presets     string
	script      string
	watch       bool
	loose       bool
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "wtldebug [host] port",
		Short: "Interactive front-end for the WTL debugger",
		Long: `wtldebug connects to a WTL debugger and drives it from a Lua console.

The console exposes the session as the wtl table:
  wtl.run()                    continue until the next breakpoint
  wtl.step()                   pause on the next WebDriver command
  wtl.stop()                   end the session
  wtl.set_breakpoint{...}      install a breakpoint, returning its id
  wtl.delete_breakpoint(id)    remove a breakpoint

Host defaults to localhost.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags, args)
			if err != nil {
				return err
			}
			return runDebugger(cmd.Context(), cfg, flags.script)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", config.DefaultPath(), "Path to configuration file")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	cmd.Flags().StringVar(&flags.logFile, "log-file", "", "Write JSON logs to this file")
	cmd.Flags().DurationVar(&flags.readTimeout, "read-timeout", 0, "Fail when the debugger is silent this long (0 waits forever)")
	cmd.Flags().StringVar(&flags.feedAddr, "feed-addr", "", "Serve the event feed and metrics on this address")
	cmd.Flags().StringVar(&flags.presets, "presets", "", "Install breakpoints from this YAML file")
	cmd.Flags().BoolVar(&flags.watch, "watch-presets", false, "Reinstall presets when the file changes")
	cmd.Flags().StringVar(&flags.script, "script", "", "Run a Lua script instead of the interactive console")
	cmd.Flags().BoolVar(&flags.loose, "loose", false, "Accept replies whose id does not match the command")

	cmd.AddCommand(newProxyCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// loadConfig layers flags and positional arguments over the file and
// environment configuration.
func loadConfig(cmd *cobra.Command, flags rootFlags, args []string) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	portArg := args[0]
	if len(args) == 2 {
		cfg.Debugger.Host = args[0]
		portArg = args[1]
	}
	port, err := strconv.Atoi(portArg)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q", portArg)
	}
	cfg.Debugger.Port = port

	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logFile != "" {
		cfg.Log.File = config.ExpandHome(flags.logFile)
	}
	if cmd.Flags().Changed("read-timeout") {
		cfg.Debugger.ReadTimeout = config.Duration(flags.readTimeout)
	}
	if flags.feedAddr != "" {
		cfg.Feed.Addr = flags.feedAddr
	}
	if flags.presets != "" {
		cfg.Breakpoints.Presets = config.ExpandHome(flags.presets)
	}
	if flags.watch {
		cfg.Breakpoints.Watch = true
	}
	if flags.loose {
		cfg.Debugger.LooseCorrelation = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.New(logging.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
}

func runDebugger(ctx context.Context, cfg *config.Config, script string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	session, err := debug.Dial(ctx, debug.Config{
		Host:             cfg.Debugger.Host,
		Port:             cfg.Debugger.Port,
		DialTimeout:      cfg.Debugger.DialTimeout.Std(),
		ReadTimeout:      cfg.Debugger.ReadTimeout.Std(),
		KeepAlive:        cfg.Debugger.KeepAlive.Std(),
		MaxPendingBytes:  cfg.Debugger.MaxPendingBytes,
		LooseCorrelation: cfg.Debugger.LooseCorrelation,
		Logger:           &logger.Logger,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	if cfg.AnalyticsActive() {
		go analytics.New(cfg.Analytics.URL, analytics.WithLogger(logger.Logger)).Report(ctx)
	}

	if cfg.Feed.Addr != "" {
		shutdown, err := startFeed(cfg.Feed.Addr, session, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	con := console.New(session, console.WithLogger(logger.Logger))
	defer con.Close()
	session.AddObserver(con)

	// A signal ends the session so a blocked run or step returns. A second
	// signal gets the default behavior.
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			stop()
			session.Interrupt()
		case <-finished:
		}
	}()

	if cfg.Breakpoints.Presets != "" {
		ids, err := session.LoadPresets(ctx, cfg.Breakpoints.Presets)
		if err != nil {
			return fmt.Errorf("load presets: %w", err)
		}
		logger.Info().Ints("ids", ids).Str("path", cfg.Breakpoints.Presets).Msg("installed preset breakpoints")

		if cfg.Breakpoints.Watch {
			watcher, err := session.WatchPresets(cfg.Breakpoints.Presets, ids)
			if err != nil {
				return err
			}
			defer watcher.Close()
			go watcher.Run(ctx)
		}
	}

	if script != "" {
		err = con.RunScript(ctx, script)
	} else {
		err = con.Run(ctx)
	}
	if ctx.Err() != nil {
		logger.Info().Msg("interrupted")
		return nil
	}
	return err
}

// startFeed serves the event feed and metrics for session.
func startFeed(addr string, session *debug.Session, logger *logging.Logger) (func(), error) {
	collector := metrics.NewCollector()
	broker := feed.NewBroker(feed.WithLogger(logger.Logger))
	session.AddObserver(collector)
	session.AddObserver(broker)

	srv := feed.NewServer(addr, broker, collector.Handler(), logger.Logger)
	bound, err := srv.Start()
	if err != nil {
		return nil, fmt.Errorf("start feed: %w", err)
	}
	logger.Info().Str("addr", bound.String()).Msg("event feed listening")

	return func() {
		broker.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("feed shutdown")
		}
	}, nil
}
