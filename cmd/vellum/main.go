// Package main is the entry point for the Vellum editor.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gdamore/tcell/v2"
	"go.lsp.dev/uri"

	"github.com/dshills/vellum/internal/app"
	"github.com/dshills/vellum/internal/bridge"
	"github.com/dshills/vellum/internal/config"
	"github.com/dshills/vellum/internal/logging"
	"github.com/dshills/vellum/internal/lsp"
	"github.com/dshills/vellum/internal/plugin"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	if opts.ConfigPath == "" {
		opts.ConfigPath = config.DefaultPath()
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		return 1
	}

	logPath := cfg.Log.Path
	if logPath == "" {
		logPath = logging.DefaultPath()
	}
	logLevel := opts.LogLevel
	if logLevel == "" {
		logLevel = cfg.Log.Level
	}
	logger, logCloser, err := logging.Open(logPath, logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open log file: %v\n", err)
		return 1
	}
	defer logCloser.Close()

	logger.Info().Str("version", version).Str("commit", commit).Str("built", date).
		Msg("vellum starting")

	workspace := opts.Workspace
	if workspace == "" {
		workspace, _ = os.Getwd()
	}
	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: bad workspace path: %v\n", err)
		return 1
	}

	br := bridge.New()
	manager := lsp.NewManager(
		lsp.WithLogger(logger),
		lsp.WithRootURI(uri.File(absWorkspace)),
	)
	manager.SetLauncher(lsp.NewProcessLauncher(br, logger))
	for language, sc := range cfg.LSP {
		manager.RegisterServer(language, sc)
	}
	defer manager.ShutdownAll()

	hooks := plugin.NewHooks(logger)
	defer hooks.Close()
	pluginDir := cfg.Plugins.Dir
	if pluginDir == "" {
		pluginDir = filepath.Join(filepath.Dir(opts.ConfigPath), "plugins")
	}
	if err := hooks.LoadDir(pluginDir); err != nil {
		logger.Warn().Err(err).Str("dir", pluginDir).Msg("failed to load plugins")
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create terminal: %v\n", err)
		return 1
	}

	application := app.New(screen, cfg, manager, br, hooks, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := config.Watch(ctx, opts.ConfigPath, logger, application.ReloadConfig); err != nil {
		logger.Warn().Err(err).Msg("config live reload unavailable")
	}

	// Restore the terminal on SIGINT/SIGTERM.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		screen.Fini()
		manager.ShutdownAll()
		os.Exit(1)
	}()

	if err := application.Run(opts.Files); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func parseFlags() app.Options {
	var opts app.Options
	var showVersion bool

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.ConfigPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.Workspace, "workspace", "", "Workspace/project directory")
	flag.StringVar(&opts.Workspace, "w", "", "Workspace/project directory (shorthand)")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Vellum - terminal code editor\n\n")
		fmt.Fprintf(os.Stderr, "Usage: vellum [options] [files...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nKeys:\n")
		fmt.Fprintf(os.Stderr, "  Ctrl+L   start or restart the language server for the current file\n")
		fmt.Fprintf(os.Stderr, "  Ctrl+K   stop the language server for the current file\n")
		fmt.Fprintf(os.Stderr, "  Tab      cycle open files\n")
		fmt.Fprintf(os.Stderr, "  Ctrl+Q   quit\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("Vellum %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	opts.Files = flag.Args()
	return opts
}
