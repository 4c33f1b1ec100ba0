package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	return srv.Listener.Addr().(*net.TCPAddr).Port
}

func versionHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/json/version" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"Browser":"Chrome/124.0","Protocol-Version":"1.3","webSocketDebuggerUrl":"ws://127.0.0.1/devtools/browser/x"}`))
}

func TestVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(versionHandler))
	defer srv.Close()

	p := NewProber()
	v, err := p.Version(context.Background(), serverPort(t, srv))
	if err != nil {
		t.Fatalf("Version error: %v", err)
	}
	if v.Browser != "Chrome/124.0" || v.ProtocolVersion != "1.3" {
		t.Errorf("Version = %+v", v)
	}
}

func TestVersion_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewProber().Version(context.Background(), serverPort(t, srv)); err == nil {
		t.Error("Version should fail on non-200")
	}
}

func TestWaitReady_EventuallyReady(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		versionHandler(w, r)
	}))
	defer srv.Close()

	err := NewProber().WaitReady(context.Background(), serverPort(t, srv), 5*time.Second, nil)
	if err != nil {
		t.Fatalf("WaitReady error: %v", err)
	}
	if calls.Load() < 3 {
		t.Errorf("calls = %d, want at least 3", calls.Load())
	}
}

func TestWaitReady_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	start := time.Now()
	err := NewProber().WaitReady(context.Background(), serverPort(t, srv), 600*time.Millisecond, nil)
	if err == nil {
		t.Fatal("WaitReady should time out")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("WaitReady took %v", time.Since(start))
	}
}

func TestWaitReady_ProcessExited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	exited := make(chan struct{})
	close(exited)

	err := NewProber().WaitReady(context.Background(), serverPort(t, srv), time.Minute, exited)
	if err == nil {
		t.Fatal("WaitReady should fail when the process exited")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		want     string
	}{
		{-time.Second, "0s"},
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{90 * time.Minute, "1h 30m"},
		{25 * time.Hour, "1d 1h"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatDuration(tt.duration); got != tt.want {
				t.Errorf("FormatDuration(%v) = %q, want %q", tt.duration, got, tt.want)
			}
		})
	}
}
