// Package logging provides logging utilities for browserpool.
//
// Two kinds of output are kept apart:
//   - Structured logs (slog) for the pool server and debugging
//   - User output: short status lines for CLI commands
//
// # Structured Logging
//
//	logging.Setup(verbose, jsonOutput, os.Stderr)
//	logging.Info("instance allocated", "instance", id, "agent", agent)
//	logging.Warn("remote port still in use", "port", port)
//
// # User Output
//
//	logging.UserSuccess("Released %s", id)
//	logging.UserWarning("Server not reachable at %s", url)
//
// UserInfo and UserSuccess write to Out, UserWarning and UserError to ErrOut.
package logging
