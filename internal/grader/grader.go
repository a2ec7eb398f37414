// Package grader computes the reproducibility grade of a run from the
// declared determinism of its nodes (spec §4.12). It is a pure function
// package: no I/O, no Landscape dependency, so the Recorder and the
// retention/purge service can both call it without an import cycle.
package grader

import "github.com/tachyon-beep/elspeth/internal/contracts"

// Grade computes the FULL/REPLAY/ATTRIBUTABLE grade for a run from the
// determinism values of every node registered on it. A non_deterministic
// or external_call node downgrades the whole run to REPLAY_REPRODUCIBLE;
// seeded counts as reproducible given the stored seed, same as
// deterministic/io_read/io_write.
func Grade(determinisms []contracts.Determinism) contracts.ReproducibilityGrade {
	for _, d := range determinisms {
		if d == contracts.DeterminismNonDeterministic || d == contracts.DeterminismExternalCall {
			return contracts.GradeReplayReproducible
		}
	}
	return contracts.GradeFullReproducible
}

// Degrade applies the one-way downgrade purge performs on affected runs
// (spec §4.14): REPLAY_REPRODUCIBLE degrades to ATTRIBUTABLE_ONLY; every
// other grade is left unchanged, since purge never improves a grade.
func Degrade(current contracts.ReproducibilityGrade) contracts.ReproducibilityGrade {
	if current == contracts.GradeReplayReproducible {
		return contracts.GradeAttributableOnly
	}
	return current
}
