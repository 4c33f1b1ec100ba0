// Package tui provides the live pool dashboard for browserpool top.
//
// The dashboard renders every slot in a Bubble Tea table and refreshes
// whenever a status update arrives from the server stream:
//
//	c := client.New(url)
//	release := func(ctx context.Context, id string) error {
//		return c.Release(ctx, id, "")
//	}
//	err := tui.RunDashboard(ctx, c.BaseURL(), c, release)
//
// # Keys
//
//   - j/k or arrows move the selection
//   - x releases the selected lease
//   - q, esc or ctrl+c quit
//
// Idle slots are grey, starting yellow, allocated green and crashed red.
package tui
