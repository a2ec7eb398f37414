// Package rowprocessor drives one source row through its linear sequence
// of transforms/gates/aggregations, delegating every invocation to the
// executor that matches the plugin's registered Kind (spec §4.10). It
// never inspects a plugin's method set to decide dispatch — dispatch is
// the tagged Kind assigned once at registration (spec §9).
package rowprocessor

import (
	"context"
	"fmt"

	"github.com/tachyon-beep/elspeth/internal/contracts"
	"github.com/tachyon-beep/elspeth/internal/executors"
	"github.com/tachyon-beep/elspeth/pkg/plugin"
)

// ErrRowRejected marks a row outcome produced when an aggregation plugin
// declines to accept a token (AcceptResult.Accepted == false). The node
// state is recorded as "rejected", not "failed" — this error only carries
// that fact up to the caller's RowResult.
var ErrRowRejected = fmt.Errorf("rowprocessor: row rejected by aggregation")

// Step is one plugin position in the linear pipeline. Exactly one of
// Transform, Gate, Aggregation is set, matching Kind.
type Step struct {
	NodeID      string
	Kind        plugin.Kind
	Transform   *executors.TransformExecutor
	Gate        *executors.GateExecutor
	Aggregation *executors.AggregationExecutor
}

// Processor walks a fixed sequence of Steps for every row handed to it.
// The Processor — not any individual executor — owns step_index, per
// spec §3.3.
type Processor struct {
	steps []Step
}

// New builds a Processor over a registered pipeline's steps, in order.
func New(steps []Step) *Processor {
	return &Processor{steps: steps}
}

// ProcessRow drives token through every step until it completes, routes,
// forks, is consumed into a batch, or fails (spec §4.10).
func (p *Processor) ProcessRow(ctx context.Context, token contracts.TokenInfo) contracts.RowResult {
	current := token
	for i, step := range p.steps {
		stepIndex := i + 1

		switch step.Kind {
		case plugin.KindTransform:
			result, updated, err := step.Transform.Execute(ctx, current, stepIndex)
			if err != nil {
				return contracts.RowResult{Outcome: contracts.RowOutcomeFailed, UpdatedToken: current, Err: err}
			}
			if result.Status == contracts.TransformError {
				return contracts.RowResult{Outcome: contracts.RowOutcomeFailed, UpdatedToken: current, Err: fmt.Errorf("rowprocessor: transform %s: %s", step.NodeID, result.Reason.Reason)}
			}
			current = updated

		case plugin.KindGate:
			outcome, err := step.Gate.Execute(ctx, current, stepIndex)
			if err != nil {
				return contracts.RowResult{Outcome: contracts.RowOutcomeFailed, UpdatedToken: current, Err: err}
			}
			switch outcome.Result.Action.Kind {
			case contracts.RoutingKindContinue:
				current = outcome.UpdatedToken
			case contracts.RoutingKindRoute:
				return contracts.RowResult{Outcome: contracts.RowOutcomeRouted, UpdatedToken: outcome.UpdatedToken, SinkName: outcome.SinkName}
			case contracts.RoutingKindFork:
				return contracts.RowResult{Outcome: contracts.RowOutcomeForked, ChildTokens: outcome.ChildTokens}
			default:
				return contracts.RowResult{Outcome: contracts.RowOutcomeFailed, UpdatedToken: current, Err: fmt.Errorf("rowprocessor: gate %s: unknown routing kind %q", step.NodeID, outcome.Result.Action.Kind)}
			}

		case plugin.KindAggregation:
			result, err := step.Aggregation.Accept(ctx, current, stepIndex)
			if err != nil {
				return contracts.RowResult{Outcome: contracts.RowOutcomeFailed, UpdatedToken: current, Err: err}
			}
			if !result.Accepted {
				return contracts.RowResult{Outcome: contracts.RowOutcomeFailed, UpdatedToken: current, Err: ErrRowRejected}
			}
			return contracts.RowResult{Outcome: contracts.RowOutcomeConsumed, UpdatedToken: current}

		default:
			return contracts.RowResult{Outcome: contracts.RowOutcomeFailed, UpdatedToken: current, Err: fmt.Errorf("rowprocessor: step %s: unknown plugin kind %q", step.NodeID, step.Kind)}
		}
	}
	return contracts.RowResult{Outcome: contracts.RowOutcomeCompleted, UpdatedToken: current}
}
