// Command elspeth is the pipeline engine's CLI surface (spec §6,
// informative, not part of the core engine contract): run, resume, purge,
// explain, and a thin HTTP serve mode. Flag parsing and .env loading
// follow cmd/tarsy/main.go's shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/tachyon-beep/elspeth/internal/config"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Exit codes per spec §6: 0 success, 1 operational failure, 2 usage error.
const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return exitUsage
	}

	subcommand := args[0]
	fs := flag.NewFlagSet("elspeth "+subcommand, flag.ContinueOnError)
	configDir := fs.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "directory containing settings.yaml and .env")
	if err := fs.Parse(args[1:]); err != nil {
		return exitUsage
	}

	settingsPath := filepath.Join(*configDir, "settings.yaml")
	envPath := filepath.Join(*configDir, ".env")

	ctx := context.Background()
	cfg, err := config.Initialize(ctx, settingsPath, envPath)
	if err != nil {
		log.Printf("elspeth: failed to initialize configuration: %v", err)
		return exitFailure
	}

	switch subcommand {
	case "run":
		return cmdRun(ctx, cfg, fs.Args())
	case "resume":
		return cmdResume(ctx, cfg, fs.Args())
	case "purge":
		return cmdPurge(ctx, cfg, args[1:])
	case "explain":
		return cmdExplain(ctx, cfg, fs.Args())
	case "serve":
		return cmdServe(ctx, cfg, args[1:])
	default:
		printUsage()
		return exitUsage
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: elspeth <command> [flags]

commands:
  run <config>               check the configuration and Landscape reachability (runs no pipeline)
  resume <run_id>            report an interrupted run's resume point (replays nothing; exits 1)
  purge [--dry-run] [--yes]  delete expired payload blobs
  explain <run_id> <row_id>  print one row's full audit lineage
  serve                      expose /health, /explain, /runs over HTTP

flags:
  -config-dir string   directory containing settings.yaml and .env (default "./deploy/config")`)
}
