package config

import (
	"fmt"

	"github.com/tachyon-beep/elspeth/internal/checkpoint"
	"github.com/tachyon-beep/elspeth/internal/telemetry"
)

// Validator validates a Settings value section by section, grounded on
// tarsy's pkg/config/validator.go: one validateX method per top-level
// settings block, each returning a *ValidationError naming the offending
// field rather than a bare error.
type Validator struct {
	cfg *Settings
}

// NewValidator wraps cfg for validation.
func NewValidator(cfg *Settings) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every section validator in the order ToRuntimeConfig
// needs them resolved, stopping at the first failure — same fail-fast
// behavior as tarsy's ValidateAll.
func (v *Validator) ValidateAll() error {
	if err := v.validateCore(); err != nil {
		return err
	}
	if err := v.validateCheckpoint(); err != nil {
		return err
	}
	if err := v.validateRateLimit(); err != nil {
		return err
	}
	if err := v.validateTelemetry(); err != nil {
		return err
	}
	return nil
}

func (v *Validator) validateCore() error {
	if v.cfg.CanonicalVersion == "" {
		return NewValidationError("core", "canonical_version", fmt.Errorf("is required"))
	}
	if v.cfg.Landscape.URL == "" {
		return NewValidationError("landscape", "url", fmt.Errorf("is required"))
	}
	if _, err := parsePostgresURL(v.cfg.Landscape.URL); err != nil {
		return NewValidationError("landscape", "url", err)
	}
	if v.cfg.PayloadStore.BasePath == "" {
		return NewValidationError("payload_store", "base_path", fmt.Errorf("is required"))
	}
	return nil
}

func (v *Validator) validateCheckpoint() error {
	cp := v.cfg.Checkpoint
	cpCfg := checkpoint.Config{
		Enabled:               cp.Enabled,
		Frequency:             checkpoint.Frequency(cp.Frequency),
		CheckpointInterval:    cp.CheckpointInterval,
		AggregationBoundaries: cp.AggregationBoundaries,
	}
	if cpCfg.Frequency == "" {
		cpCfg.Frequency = checkpoint.FrequencyEveryRow
	}
	if err := cpCfg.Validate(); err != nil {
		return NewValidationError("checkpoint", "frequency", err)
	}
	return nil
}

func (v *Validator) validateRateLimit() error {
	rl := v.cfg.RateLimit
	if !rl.Enabled {
		return nil
	}
	if rl.DefaultRequestsPerSecond < 0 || rl.DefaultRequestsPerMinute < 0 {
		return NewValidationError("rate_limit", "default_requests_per_second", fmt.Errorf("must not be negative"))
	}
	for name, svc := range rl.Services {
		if svc.RequestsPerSecond < 0 || svc.RequestsPerMinute < 0 {
			return NewValidationError("rate_limit", "services."+name, fmt.Errorf("must not be negative"))
		}
	}
	return nil
}

func (v *Validator) validateTelemetry() error {
	t := v.cfg.Telemetry
	cfg := telemetry.Config{
		Enabled:                    t.Enabled,
		Granularity:                telemetry.Granularity(t.Granularity),
		BackpressureMode:           telemetry.BackpressureMode(t.BackpressureMode),
		FailOnTotalExporterFailure: t.FailOnTotalExporterFailure,
		MaxConsecutiveFailures:     t.MaxConsecutiveFailures,
	}
	if cfg.Enabled {
		if cfg.Granularity == "" {
			cfg.Granularity = telemetry.GranularityLifecycle
		}
		if cfg.BackpressureMode == "" {
			cfg.BackpressureMode = telemetry.BackpressureBlock
		}
		switch cfg.Granularity {
		case telemetry.GranularityLifecycle, telemetry.GranularityRows, telemetry.GranularityFull:
		default:
			return NewValidationError("telemetry", "granularity", fmt.Errorf("unknown granularity %q", cfg.Granularity))
		}
		if err := cfg.Validate(); err != nil {
			return NewValidationError("telemetry", "backpressure_mode", err)
		}
		for i, exp := range t.Exporters {
			if exp.Name == "" {
				return NewValidationError("telemetry", fmt.Sprintf("exporters[%d].name", i), fmt.Errorf("is required"))
			}
		}
	}
	return nil
}
