// Package config loads reauthctl's TOML configuration.
//
// # Configuration Discovery
//
// Load resolves the path as follows:
//
//  1. If a path is explicitly provided, use it
//  2. Otherwise, use ~/.config/reauth/config.toml
//  3. If the file doesn't exist, fall back to defaults
//  4. If the file exists but fields are missing or empty, use defaults
//
// # TOML Format
//
//	base_url = "https://api.example.com"
//	refresh_url = "https://api.example.com/auth/refresh"
//	refresh_token = "..."
//	token = "..."
//	log_level = "info"
//	metrics_addr = ":9090"
//
//	[redis]
//	addr = "127.0.0.1:6379"
//	key = "reauth:credential"
//	ttl = "1h"
//
//	[budget]
//	capacity = 20
//	refill_per_second = 2
//
//	[policy]
//	max_delay = "30s"
//
//	[policy.network]
//	max_retries = 3
//
// The [policy] table uses the format of policy.FileConfig and is applied on
// top of policy.DefaultRetryPolicy.
//
// Missing config files are not an error.
package config
