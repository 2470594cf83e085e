package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/varpol/internal/bundle"
	"github.com/roach88/varpol/internal/mailbox"
	"github.com/roach88/varpol/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen      string
	Bundles     []string
	ReadyToBoot bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the policy mailbox over HTTP",
		Long: `Serve the binary policy mailbox on POST /mailbox, with GET /metrics
and GET /health.

Bundles given with --bundle are registered before the listener opens.
With --ready-to-boot (or engine.lock_at_ready_to_boot) the interface is
then locked and the engine enters runtime mode, so the mailbox only
answers IsEnabled and Dump successfully.

Examples:
  varpol serve --listen 127.0.0.1:8407
  varpol serve --bundle ./platform.cue --ready-to-boot`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides server.listen)")
	cmd.Flags().StringArrayVar(&opts.Bundles, "bundle", nil, "bundle to register at startup (repeatable)")
	cmd.Flags().BoolVar(&opts.ReadyToBoot, "ready-to-boot", false, "lock the interface once bundles are registered")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	f := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return f.FailWith(ExitCommandError, ErrCodeConfig, "failed to load config", err, nil)
	}
	if opts.Listen != "" {
		cfg.Server.Listen = opts.Listen
	}
	if cmd.Flags().Changed("ready-to-boot") {
		cfg.Engine.LockAtReadyToBoot = opts.ReadyToBoot
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, f.GetErrWriter())
	if err != nil {
		return f.FailWith(ExitCommandError, ErrCodeCommand, "failed to open engine", err, nil)
	}
	defer rt.Close()

	srv, err := prepareServer(ctx, rt, opts.Bundles)
	if err != nil {
		return f.Fail("startup", err)
	}

	rt.logger.Info("serving policy mailbox",
		"listen", cfg.Server.Listen,
		"metrics", cfg.Server.Metrics,
		"session", rt.engine.SessionID())
	fmt.Fprintf(f.GetErrWriter(), "Serving policy mailbox on %s. Press Ctrl-C to stop.\n", cfg.Server.Listen)

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return f.FailWith(ExitCommandError, ErrCodeCommand, "server error", err, nil)
	}
	rt.logger.Info("server stopped gracefully")
	return nil
}

// prepareServer registers startup bundles, applies the ready-to-boot
// transition and builds the HTTP server for rt.
func prepareServer(ctx context.Context, rt *runtime, bundles []string) (*server.Server, error) {
	for _, path := range bundles {
		b, err := bundle.Load(path)
		if err != nil {
			return nil, err
		}
		for i, p := range b.Policies {
			if err := rt.engine.Register(ctx, p); err != nil {
				return nil, fmt.Errorf("%s: policy %d: %w", b.PositionOf(i), i, err)
			}
		}
		rt.logger.Info("bundle registered", "path", path, "policies", len(b.Policies))
	}

	if rt.cfg.Engine.LockAtReadyToBoot {
		rt.engine.LockAtReadyToBoot(ctx)
		rt.engine.EnterRuntime()
	}

	dispatcher := mailbox.NewDispatcher(rt.engine,
		mailbox.WithLogger(rt.logger),
		mailbox.WithMetrics(rt.metrics),
	)
	srvOpts := []server.Option{
		server.WithAddr(rt.cfg.Server.Listen),
		server.WithLogger(rt.logger),
	}
	if rt.cfg.Server.Metrics {
		srvOpts = append(srvOpts, server.WithMetrics(rt.registry))
	}
	return server.New(dispatcher, srvOpts...), nil
}
