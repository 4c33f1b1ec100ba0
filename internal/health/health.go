package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultPollInterval is how often WaitReady probes.
const DefaultPollInterval = 250 * time.Millisecond

// Version is the DevTools /json/version document.
type Version struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Prober queries DevTools endpoints on Host.
type Prober struct {
	Client *http.Client
	Host   string
}

// NewProber returns a Prober for browsers on the loopback interface.
func NewProber() *Prober {
	return &Prober{
		Client: &http.Client{Timeout: 2 * time.Second},
		Host:   "127.0.0.1",
	}
}

// URL returns the version endpoint for port.
func (p *Prober) URL(port int) string {
	return fmt.Sprintf("http://%s:%d/json/version", p.Host, port)
}

// Version fetches the DevTools version document from port.
func (p *Prober) Version(ctx context.Context, port int) (*Version, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL(port), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("devtools on port %d returned %s", port, resp.Status)
	}
	var v Version
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid devtools response on port %d: %w", port, err)
	}
	return &v, nil
}

// WaitReady polls port until DevTools answers, the timeout passes, or
// exited is closed.
func (p *Prober) WaitReady(ctx context.Context, port int, timeout time.Duration, exited <-chan struct{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(DefaultPollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		_, err := p.Version(ctx, port)
		if err == nil {
			return nil
		}
		lastErr = err

		select {
		case <-exited:
			return fmt.Errorf("browser exited before devtools on port %d was ready", port)
		case <-ctx.Done():
			return fmt.Errorf("devtools on port %d not ready after %s: %w", port, timeout, lastErr)
		case <-ticker.C:
		}
	}
}

// FormatDuration renders d compactly: 45s, 12m, 3h 5m, 2d 4h.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
