// Package config loads the browserpool TOML configuration.
//
// The file lives at /etc/browserpool/config.toml unless --config or
// $BROWSERPOOL_CONFIG points elsewhere. Every key is optional; a missing
// file means the built-in defaults. Unknown keys are rejected.
//
//	[pool]
//	port_from = 9222
//	port_to = 9232
//	data_dir = "~/.local/share/browserpool"
//	default_mode = "headless"
//	default_timeout = "300s"
//
//	[server]
//	listen = "127.0.0.1:8765"
//	stream_interval = "5s"
//
//	[reaper]
//	interval = "30s"
//
//	[local]
//	chrome_path = "google-chrome"
//	extra_args = "--disable-gpu --no-sandbox"
//
//	[remote]
//	host = "stark-windows"
//	connect_timeout = 10
//	disable_host_key_check = false
//	task_prefix = "ChromePool_"
//	release_attempts = 8
//
// # Data Directory
//
// Paths lays out the state kept under data_dir:
//
//	pool.db             SQLite instance table
//	profiles/chrome-N/  per-instance browser profiles
//	audit/              per-instance JSONL event logs
//	scripts/            remote launch scripts before upload
package config
