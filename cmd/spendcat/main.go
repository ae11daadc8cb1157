package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/hpungsan/spendcat/internal/config"
	"github.com/hpungsan/spendcat/internal/db"
	"github.com/hpungsan/spendcat/internal/engine"
	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/logging"
	"github.com/hpungsan/spendcat/internal/mcp"
	"github.com/hpungsan/spendcat/internal/schedule"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"predict": true, "correct": true, "corrections": true,
	"retrain": true, "status": true, "versions": true,
	"rollback": true, "discard": true, "explain": true,
	"import": true, "export": true, "seed": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
                            _           _
   ___ _ __   ___ _ __   __| | ___ __ _| |_
  / __| '_ \ / _ \ '_ \ / _' |/ __/ _' | __|
  \__ \ |_) |  __/ | | | (_| | (_| (_| | |_
  |___/ .__/ \___|_| |_|\__,_|\___\__,_|\__|
      |_|

  Expense description classifier

  Usage: spendcat <command> [options]
         spendcat --help

  MCP server mode requires piped input.`)
}

// baseDirectory returns $SPENDCAT_HOME, or ~/.spendcat.
func baseDirectory() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("SPENDCAT_HOME")); dir != "" {
		return filepath.Abs(dir)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".spendcat"), nil
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil, nil, nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	baseDir, err := baseDirectory()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cwd, _ := os.Getwd()
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	database, err := db.Init(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	eng, err := engine.New(database, baseDir, cfg, logger, engine.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(eng, database, cfg)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'spendcat --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default)
	if err := serve(eng, cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// serve runs the MCP stdio server, plus the retrain scheduler when configured.
func serve(eng *engine.Engine, cfg *config.Config, logger *zap.Logger) error {
	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("ignoring unknown disabled_tools", zap.Strings("tools", unknown))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := eng.LoadActive(ctx); err != nil && !errors.Is(err, errors.ErrNoModel) {
		logger.Error("failed to load active model", zap.Error(err))
	}

	if strings.TrimSpace(cfg.RetrainSchedule) != "" {
		sched, err := schedule.New(cfg.RetrainSchedule, eng, logger)
		if err != nil {
			return err
		}
		go func() { _ = sched.Run(ctx) }()
	}

	return mcp.Run(eng, cfg, Version)
}
