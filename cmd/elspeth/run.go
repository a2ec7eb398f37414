package main

import (
	"context"
	"fmt"
	"log"

	"github.com/tachyon-beep/elspeth/internal/config"
)

// cmdRun validates that cfg describes a reachable Landscape and payload
// store. A pipeline's actual RunSpec (its source, transforms, gates, and
// sinks) is assembled from live plugin.Transform/plugin.Gate/plugin.Sink
// values, not from settings.yaml, so this command cannot construct and
// execute an orchestrator.RunSpec from a bare path — a program embedding
// this engine builds its RunSpec in Go and calls orchestrator.New(...).Run
// directly, using openRuntime's Recorder/payload store/rate limiter/
// telemetry construction as its bootstrap. "elspeth run" instead proves
// the configuration that embedding program would use is valid and the
// Landscape it targets is reachable, the same preflight a deploy script
// would want before starting the real process.
func cmdRun(ctx context.Context, cfg *config.RuntimeConfig, args []string) int {
	if len(args) != 1 {
		fmt.Println("usage: elspeth run <config>")
		return exitUsage
	}

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		log.Printf("elspeth: %v", err)
		return exitFailure
	}
	defer rt.close(ctx)

	if err := rt.recorder.Pool().Ping(ctx); err != nil {
		log.Printf("elspeth: landscape unreachable: %v", err)
		return exitFailure
	}

	fmt.Printf("configuration %q is valid, canonical_version=%s, landscape reachable at %s:%d/%s\n",
		args[0], cfg.CanonicalVersion, cfg.Landscape.Host, cfg.Landscape.Port, cfg.Landscape.Database)
	fmt.Println("elspeth: no pipeline is wired into the CLI; embed this engine and call orchestrator.New(...).Run to execute one")
	return exitSuccess
}
