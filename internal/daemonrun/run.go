package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"cosflow/internal/config"
	"cosflow/internal/daemon"
	"cosflow/internal/evaluation"
	"cosflow/internal/lifecycle"
	"cosflow/internal/logging"
	"cosflow/internal/merge"
	"cosflow/internal/notifications"
	"cosflow/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Components is the wired service graph shared by the daemon and direct CLI commands.
type Components struct {
	Store      *store.Store
	Hub        *notifications.Hub
	Engine     *merge.Engine
	Lifecycle  *lifecycle.Service
	Evaluation *evaluation.Service
}

// Build opens the store and wires the workflow services around it.
func Build(cfg *config.Config, logger *slog.Logger) (*Components, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	combiner, err := merge.NewPDFCPU(cfg.Merge.PageSize)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}

	hub := notifications.NewHub(cfg.DeliveryTimeout(), logger)
	engine := merge.NewEngine(st, combiner, cfg, logger)
	return &Components{
		Store:      st,
		Hub:        hub,
		Engine:     engine,
		Lifecycle:  lifecycle.NewService(st, engine, hub, cfg, logger),
		Evaluation: evaluation.NewService(st, hub, logger),
	}, nil
}

// Close releases the store.
func (c *Components) Close() error {
	if c == nil || c.Store == nil {
		return nil
	}
	return c.Store.Close()
}

// Run starts the cosflow daemon and blocks until the context is cancelled or a signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if err := cfg.RequireJWTSecret(); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if opts.Development {
		logger, err = logging.New(logging.Options{
			Level:       "debug",
			Format:      cfg.Logging.Format,
			Development: true,
		})
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
	}

	components, err := Build(cfg, logger)
	if err != nil {
		logger.Error("open workflow store", logging.Error(err))
		return err
	}
	defer components.Close()

	var ntfyRegistered bool
	if ntfy := notifications.NewNtfySubscriber(cfg, logger); ntfy != nil {
		unsubscribe := components.Hub.Subscribe(ntfy)
		defer unsubscribe()
		ntfyRegistered = true
	}
	logStartupSnapshot(logger, cfg, ntfyRegistered)

	d, err := daemon.New(cfg, daemon.Deps{
		Store:      components.Store,
		Hub:        components.Hub,
		Lifecycle:  components.Lifecycle,
		Evaluation: components.Evaluation,
	}, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check api_bind and that no other daemon holds "+cfg.LockPath()),
			logging.String(logging.FieldImpact, "workflow API unavailable"),
		)
		return err
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	<-signalCtx.Done()
	logger.Info("cosflow daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logStartupSnapshot(logger *slog.Logger, cfg *config.Config, ntfy bool) {
	logger.Info("startup snapshot",
		logging.String(logging.FieldEventType, "startup_snapshot"),
		logging.String("database", cfg.DatabasePath()),
		logging.String("api_bind", cfg.Paths.APIBind),
		logging.String("page_size", cfg.Merge.PageSize),
		logging.Int("max_file_mib", cfg.Upload.MaxFileMiB),
		logging.Int("max_fragments", cfg.Merge.MaxFragments),
		logging.Int("max_total_mib", cfg.Merge.MaxTotalMiB),
		logging.Bool("ntfy_enabled", ntfy),
	)
}
