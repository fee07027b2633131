package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"blurscan/internal/cli"
	"blurscan/internal/config"
	"blurscan/internal/logging"
	"blurscan/internal/scan"
	"blurscan/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "blurscan: config: %v\n", err)
		return 1
	}

	log, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "blurscan: logging: %v\n", err)
		return 1
	}

	var store *storage.Store
	if cfg.Paths.DatabasePath != "" {
		store, err = storage.New(cfg.Paths.DatabasePath)
		if err != nil {
			log.Warn("run history disabled", "path", cfg.Paths.DatabasePath, "error", err)
			store = nil
		}
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd(cfg, log, store).ExecuteContext(ctx); err != nil {
		msg, code := diagnose(err)
		fmt.Fprint(os.Stderr, msg)
		return code
	}
	return 0
}

// diagnose turns a command error into the message and exit status shown to
// the user. Bad input exits with 2 and points at the scan usage.
func diagnose(err error) (string, int) {
	if scan.IsInputError(err) {
		return fmt.Sprintf("blurscan: %v\nRun 'blurscan scan --help' for usage.\n", err), 2
	}
	return fmt.Sprintf("blurscan: %v\n", err), 1
}
