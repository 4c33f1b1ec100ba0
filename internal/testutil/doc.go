// Package testutil provides test fixtures and a pool test environment.
//
// # Environment
//
// NewTestEnv lays out a temporary data directory, opens a SQLite store in
// it and registers mock launchers for both modes:
//
//	env := testutil.NewTestEnv(t, 3) // ports 9222-9224
//	p := pool.New(env.Store, env.Launchers, env.Ports, pool.WithClock(env.Clock.Now))
//	env.Clock.Advance(time.Minute)
//
// # Fixtures
//
// Fixtures are embedded using go:embed:
//
//	fixtures/valid_config.toml
//	fixtures/invalid_config.toml
//	fixtures/slots.json
//
// Helpers parse them into typed values:
//
//	cfg, err := testutil.ValidConfig()
//	slots, err := testutil.SnapshotSlots()
package testutil
