// Package errs centralizes the sentinel error kinds used across the
// engine so callers can errors.Is against them regardless of which
// package surfaced the failure.
package errs

import "errors"

var (
	// ErrConfig marks invalid or inconsistent configuration; fatal,
	// reported at startup.
	ErrConfig = errors.New("config error")

	// ErrAdaptorMisconfigured marks an adaptor whose parameters violate
	// its invariants (sigma_min > sigma_max, or p outside [0,1]).
	ErrAdaptorMisconfigured = errors.New("adaptor misconfigured")

	// ErrEvaluationFailed marks a user objective that panicked, returned
	// an error, or produced a non-finite value. Per-item; the individual
	// remains dirty.
	ErrEvaluationFailed = errors.New("evaluation failed")

	// ErrTimeoutPartial marks a broker executor round that returned
	// before all submitted items came back.
	ErrTimeoutPartial = errors.New("timeout: partial return")

	// ErrCheckpointCorrupt marks a restore that could not be completed;
	// fatal unless the caller explicitly chose to ignore it.
	ErrCheckpointCorrupt = errors.New("checkpoint corrupt")

	// ErrBrokerShutdown is worker-side only: it terminates a worker's
	// client loop cleanly.
	ErrBrokerShutdown = errors.New("broker shutdown")
)
