// Command voxterm is a terminal voice chat client for realtime speech AI
// channels.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/voxterm/voxterm/internal/app"
	"github.com/voxterm/voxterm/internal/config"
	"github.com/voxterm/voxterm/internal/health"
	"github.com/voxterm/voxterm/internal/observe"
	"github.com/voxterm/voxterm/internal/ui"
	"github.com/voxterm/voxterm/pkg/realtime"
	geminilive "github.com/voxterm/voxterm/pkg/realtime/gemini"
	oairealtime "github.com/voxterm/voxterm/pkg/realtime/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxterm: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxterm: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The terminal belongs to the UI, so logs go to the configured file or
	// nowhere.
	logger, logClose, err := newLogger(cfg.Server.LogLevel, cfg.Server.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxterm: %v\n", err)
		return 1
	}
	defer logClose()
	slog.SetDefault(logger)

	slog.Info("voxterm starting",
		"config", *configPath,
		"provider", cfg.Provider.Name,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Metrics ───────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsShutdown(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()

	// ── Realtime provider ─────────────────────────────────────────────────────
	provider, err := buildProvider(cfg)
	if err != nil {
		slog.Error("failed to build provider", "err", err)
		fmt.Fprintf(os.Stderr, "voxterm: %v\n", err)
		return 1
	}
	slog.Info("provider created", "name", cfg.Provider.Name, "model", cfg.Provider.Model)

	// ── Controller and UI ─────────────────────────────────────────────────────
	ctrl := app.NewController(cfg, provider)
	program := tea.NewProgram(ui.New(ctrl), tea.WithAltScreen())

	ctrl.OnStateChange(func(s app.State, errMsg string) {
		program.Send(ui.StateChangedMsg{State: s, ErrMsg: errMsg})
	})
	ctrl.OnSpeakingChange(func(speaking bool) {
		program.Send(ui.SpeakingChangedMsg{Speaking: speaking})
	})

	g, gctx := errgroup.WithContext(ctx)

	// Prometheus endpoint plus health probes, optional.
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observe.Handler())
		health.New(health.SessionChecker(func() (string, string) {
			s, errMsg := ctrl.State()
			return s.String(), errMsg
		})).Register(mux)
		srv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}

		g.Go(func() error {
			slog.Info("metrics endpoint listening", "addr", cfg.Server.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		_, err := program.Run()
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		// Quitting the program unblocks the Run goroutine; the UI stops the
		// controller on its way out.
		program.Quit()
		return nil
	})

	// The UI exiting (q key) is the normal way down; cancel the signal
	// context so the metrics goroutines unwind too.
	runErr := g.Wait()
	stop()
	ctrl.Stop()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildProvider constructs the realtime channel provider named in cfg.
func buildProvider(cfg *config.Config) (realtime.Provider, error) {
	switch cfg.Provider.Name {
	case config.ProviderGeminiLive:
		var opts []geminilive.Option
		if cfg.Provider.Model != "" {
			opts = append(opts, geminilive.WithModel(cfg.Provider.Model))
		}
		if cfg.Provider.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(cfg.Provider.BaseURL))
		}
		return geminilive.New(cfg.Provider.APIKey, opts...), nil

	case config.ProviderOpenAIRealtime:
		var opts []oairealtime.Option
		if cfg.Provider.Model != "" {
			opts = append(opts, oairealtime.WithModel(cfg.Provider.Model))
		}
		if cfg.Provider.BaseURL != "" {
			opts = append(opts, oairealtime.WithBaseURL(cfg.Provider.BaseURL))
		}
		return oairealtime.New(cfg.Provider.APIKey, opts...), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel, logFile string) (*slog.Logger, func(), error) {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var w io.Writer = io.Discard
	closeFn := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closeFn = func() { _ = f.Close() }
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), closeFn, nil
}
