package cli

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/varpol/internal/auth"
	"github.com/roach88/varpol/internal/config"
	"github.com/roach88/varpol/internal/engine"
	"github.com/roach88/varpol/internal/lockshim"
	"github.com/roach88/varpol/internal/metrics"
	"github.com/roach88/varpol/internal/store"
	"github.com/roach88/varpol/internal/variable"
)

// runtime is the fully wired engine a command operates on. The session
// journaled in the database is restored on open, so consecutive commands
// share one boot session until reset.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    *store.Store
	engine   *engine.Engine
	service  *variable.Service
	shim     *lockshim.Shim
}

// loadConfig loads the config file and applies flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func openRuntime(ctx context.Context, cfg *config.Config, logOut io.Writer) (*runtime, error) {
	logger := cfg.Log.Logger(logOut)

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	eng := engine.New(st,
		engine.WithJournal(st),
		engine.WithLogger(logger),
		engine.WithMetrics(m),
		engine.WithLockOnlyAtBootTime(cfg.Engine.LockOnlyAtBootTime),
	)
	if err := restoreSession(ctx, st, eng, logger); err != nil {
		st.Close()
		return nil, err
	}

	verifierOpts := []auth.VerifierOption{}
	if cfg.Auth.Roots != "" {
		pool, err := loadRoots(cfg.Auth.Roots)
		if err != nil {
			st.Close()
			return nil, err
		}
		verifierOpts = append(verifierOpts, auth.WithRoots(pool))
	}
	validator := auth.NewValidator(auth.NewJWSVerifier(verifierOpts...),
		auth.WithLogger(logger),
		auth.WithMetrics(m),
		auth.WithTrustedSigners(cfg.Auth.TrustedSigners...),
	)

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  m,
		store:    st,
		engine:   eng,
		service:  variable.New(eng, st, validator, variable.WithLogger(logger)),
		shim:     lockshim.New(eng, logger),
	}, nil
}

// restoreSession resumes the journaled session, or journals the fresh
// one when the database is new.
func restoreSession(ctx context.Context, st *store.Store, eng *engine.Engine, logger *slog.Logger) error {
	sess, err := st.LoadSession(ctx)
	if errors.Is(err, store.ErrNotFound) {
		logger.Debug("starting new session", "session", eng.SessionID())
		if err := st.SaveSession(ctx, eng.State()); err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	records, err := st.LoadPolicies(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	if err := eng.Restore(sess, records); err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	return nil
}

func loadRoots(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trust roots: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		r.logger.Error("error closing database", "error", err)
	}
}

// withRuntime loads config, opens the runtime, runs fn and closes it.
// Setup failures are reported through f.
func withRuntime(ctx context.Context, opts *RootOptions, f *OutputFormatter, fn func(*runtime) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return f.FailWith(ExitCommandError, ErrCodeConfig, "failed to load config", err, nil)
	}
	rt, err := openRuntime(ctx, cfg, f.GetErrWriter())
	if err != nil {
		return f.FailWith(ExitCommandError, ErrCodeCommand, "failed to open engine", err, nil)
	}
	defer rt.Close()
	return fn(rt)
}
