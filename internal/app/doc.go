// Package app wires the pool service together.
//
// # App Context
//
// New builds every component from a validated config:
//
//	store      SQLite database under pool.data_dir
//	launchers  local headless launcher, plus the remote gui launcher when remote.host is set
//	pool       the allocator, with Prometheus metrics and the audit log
//	reaper     expiry and crash sweeps every reaper.interval
//	server     the HTTP API on server.listen
//
// # Running
//
//	a, err := app.New(ctx, cfg)
//	defer a.Close()
//	err = a.Run(ctx) // blocks until ctx is cancelled
//
// Shutdown order is server, reaper, then every running browser.
//
// # Testing
//
//	a, err := app.New(ctx, cfg, app.WithLaunchers(mocks))
package app
