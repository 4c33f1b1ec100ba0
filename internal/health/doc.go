// Package health checks that a browser's DevTools endpoint is answering.
//
// A launched browser is usable once GET /json/version on its debugging
// port responds. The local launcher waits for that before handing the
// slot to an agent:
//
//	p := health.NewProber()
//	err := p.WaitReady(ctx, 9222, 10*time.Second, proc.Done())
//
// FormatDuration renders lease ages for the CLI and dashboard.
package health
