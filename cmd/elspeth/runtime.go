package main

import (
	"context"
	"fmt"
	"log"

	"github.com/tachyon-beep/elspeth/internal/config"
	"github.com/tachyon-beep/elspeth/internal/landscape"
	"github.com/tachyon-beep/elspeth/internal/payloadstore"
	"github.com/tachyon-beep/elspeth/internal/ratelimit"
	"github.com/tachyon-beep/elspeth/internal/telemetry"
	"github.com/tachyon-beep/elspeth/internal/telemetry/exporters"
)

// runtime is every long-lived component a subcommand may need, built once
// from a RuntimeConfig. Never a package-level singleton (spec §9) — each
// invocation of main constructs its own.
type runtime struct {
	recorder  *landscape.Recorder
	payloads  payloadstore.Store
	rateLimit *ratelimit.Limiter
	bus       *telemetry.EventBus
	telemetry *telemetry.Manager
	wsExp     *exporters.WSExporter
}

func openRuntime(ctx context.Context, cfg *config.RuntimeConfig) (*runtime, error) {
	payloads, err := payloadstore.NewFSStore(cfg.PayloadStoreBase)
	if err != nil {
		return nil, fmt.Errorf("elspeth: open payload store: %w", err)
	}

	recorder, err := landscape.Open(ctx, cfg.Landscape, payloads)
	if err != nil {
		return nil, fmt.Errorf("elspeth: open landscape: %w", err)
	}

	var store *ratelimit.PersistentStore
	if cfg.RateLimit.PersistencePath != "" {
		store = ratelimit.NewPersistentStore(cfg.RateLimit.PersistencePath)
	}
	limiter := ratelimit.New(cfg.RateLimit.Default, cfg.RateLimit.Services, store)

	rt := &runtime{recorder: recorder, payloads: payloads, rateLimit: limiter}

	if cfg.Telemetry.Manager.Enabled {
		rt.bus = telemetry.NewEventBus()
		exps, wsExp, err := buildExporters(cfg.Telemetry.Exporters)
		if err != nil {
			recorder.Close()
			return nil, err
		}
		rt.wsExp = wsExp
		rt.telemetry = telemetry.NewManager(cfg.Telemetry.Manager, exps)
	}

	return rt, nil
}

func buildExporters(settings []config.ExporterSettings) ([]telemetry.Exporter, *exporters.WSExporter, error) {
	built := make([]telemetry.Exporter, 0, len(settings))
	var wsExp *exporters.WSExporter
	for _, s := range settings {
		var exp telemetry.Exporter
		switch s.Name {
		case "log":
			exp = exporters.NewLogExporter()
		case "websocket":
			ws := exporters.NewWSExporter()
			wsExp = ws
			exp = ws
		default:
			return nil, nil, fmt.Errorf("elspeth: unknown telemetry exporter %q", s.Name)
		}
		if err := exp.Configure(s.Options); err != nil {
			return nil, nil, fmt.Errorf("elspeth: configure exporter %q: %w", s.Name, err)
		}
		built = append(built, exp)
	}
	return built, wsExp, nil
}

func (rt *runtime) startTelemetry(ctx context.Context) {
	if rt.telemetry == nil {
		return
	}
	go rt.telemetry.Drain(ctx)
	go func() {
		if err := rt.telemetry.Run(ctx, rt.bus); err != nil {
			log.Printf("elspeth: telemetry manager stopped: %v", err)
		}
	}()
}

func (rt *runtime) close(ctx context.Context) {
	if rt.telemetry != nil {
		rt.telemetry.Close(ctx)
	}
	if rt.bus != nil {
		rt.bus.Close()
	}
	rt.recorder.Close()
}
