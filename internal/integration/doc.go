// Package integration runs the pool service end to end: a real App
// serving HTTP on a loopback listener, driven through the client.
//
// Tests that launch real browsers are skipped unless the
// BROWSERPOOL_INTEGRATION_TESTS environment variable is set. They need:
//   - a Chrome or Chromium binary ($BROWSERPOOL_CHROME, or one of
//     google-chrome, chromium, chromium-browser on PATH)
//   - free ports in 9600-9601 ($BROWSERPOOL_TEST_PORT overrides the start)
//
// Running:
//
//	BROWSERPOOL_INTEGRATION_TESTS=1 go test ./internal/integration/...
//
// The same harness also runs against mock launchers, so the service
// wiring is covered in every test run.
package integration
