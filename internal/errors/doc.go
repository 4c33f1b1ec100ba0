// Package errors provides typed errors with exit codes for browserpool.
//
// # Error Types
//
// PoolError carries a Kind, an exit code and an optional cause:
//
//	type PoolError struct {
//	    Kind    Kind   // Error class, also sent over the wire
//	    Code    int    // Exit code
//	    Message string // User-facing message
//	    Cause   error  // Wrapped error
//	}
//
// # Kinds
//
//	KindCapacityExhausted  // no idle slot; HTTP 503, exit 4
//	KindLaunchFailed       // browser failed to start; HTTP 502, exit 5
//	KindNotFound           // unknown instance; HTTP 404, exit 2
//	KindOwnershipMismatch  // agent does not hold the lease; HTTP 403, exit 3
//	KindTransientRemote    // remote step timed out; HTTP 504, exit 8
//
// # Usage
//
//	if errors.IsKind(err, errors.KindCapacityExhausted) {
//	    // retry later
//	}
//	os.Exit(errors.GetExitCode(err))
package errors
