package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/italolelis/auto_ytdlp/internal/app"
	"github.com/italolelis/auto_ytdlp/internal/config"
	"github.com/italolelis/auto_ytdlp/internal/events"
	"github.com/italolelis/auto_ytdlp/internal/logctx"
	"github.com/italolelis/auto_ytdlp/internal/tui"
	"github.com/mattn/go-isatty"
)

const shutdownGrace = 30 * time.Second

type flags struct {
	configPath string
	linksFile  string
	noGUI      bool
	version    bool
}

func parseFlags(args []string) (flags, error) {
	var f flags

	fs := flag.NewFlagSet("auto_ytdlp", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "config.toml", "path to the TOML configuration file")
	fs.StringVar(&f.linksFile, "links", "", "path to the links file (overrides general.links_file)")
	fs.BoolVar(&f.noGUI, "no-gui", false, "run headless until every link is processed")
	fs.BoolVar(&f.version, "version", false, "print the version and exit")

	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}

	return f, nil
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}

		os.Exit(2)
	}

	if f.version {
		fmt.Println("auto_ytdlp", app.Version)

		return
	}

	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	if f.linksFile != "" {
		cfg.General.LinksFile = f.linksFile
	}

	headless := f.noGUI || !isTerminal(os.Stdin) || !isTerminal(os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := run(ctx, cfg, headless)

	cancel()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, headless bool) int {
	bus := events.NewBus()
	defer bus.Close()

	logger, closeLog := buildLogger(cfg, bus, headless)
	defer closeLog()

	slog.SetDefault(logger)
	ctx = logctx.WithLogger(ctx, logger)

	logger.Info("auto_ytdlp starting...", "version", app.Version, "headless", headless, "log_level", cfg.General.LogLevel)

	for _, w := range cfg.Warnings {
		logger.Warn("configuration warning", "warning", w)
	}

	a, err := app.New(ctx, cfg, bus)
	if err != nil {
		logger.Error("fatal error", "err", err)

		return 1
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()

		a.Shutdown(shutdownCtx)
	}()

	if headless {
		if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("download session failed", "err", err)

			return 1
		}

		return a.ExitCode()
	}

	if err := tui.Run(ctx, a, bus); err != nil {
		logger.Error("terminal ui failed", "err", err)

		return 1
	}

	return 0
}

// buildLogger fans logs out to the JSON log file and either stderr (headless)
// or the bus feeding the TUI log pane.
func buildLogger(cfg *config.Config, bus *events.Bus, headless bool) (*slog.Logger, func()) {
	opts := logctx.Options{Level: cfg.SlogLevel()}
	closeFn := func() {}

	if cfg.General.LogFile != "" {
		file, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", cfg.General.LogFile, err)
		} else {
			opts.File = file
			closeFn = func() { _ = file.Close() }
		}
	}

	if headless {
		opts.Console = os.Stderr
	} else {
		opts.Extra = append(opts.Extra, events.NewLogHandler(bus, cfg.SlogLevel()))
	}

	return logctx.New(opts), closeFn
}

func isTerminal(f interface{ Fd() uintptr }) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
