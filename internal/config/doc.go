// Package config handles configuration loading for nursery-gateway.
//
// # Configuration File
//
// The path comes from the NURSERY_CONFIG environment variable, falling back to
// $XDG_CONFIG_HOME/nursery/gateway.yaml. Files ending in .toml are read as
// TOML; anything else is read as YAML. Omitted fields take the values from
// Default().
//
// Values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${NURSERY_JWT_SECRET}"
//
// Durations use time.ParseDuration syntax ("30s", "5m", "168h").
//
// # Sections
//
//	server:
//	  http_addr: "localhost:8080"
//	  grpc_addr: "localhost:50051"   # optional health/channelz listener
//	  trust_proxy: false             # believe X-Forwarded-For
//	  shutdown_timeout: "10s"
//
//	database:
//	  driver: "sqlite"               # sqlite (pure Go) or sqlite3 (cgo)
//	  path: "/var/lib/nursery/gateway.db"
//
//	auth:
//	  jwt_secret: "${NURSERY_JWT_SECRET}"   # at least 32 bytes
//	  token_lifetime: "168h"
//	  cookie_name: "nursery_session"
//	  lockout_threshold: 3
//	  lockout_duration: "5m"
//	  revocation_sweep_interval: "1m"
//	  login_rate: 1                  # login attempts per second per client
//	  login_burst: 5
//
//	deployment:
//	  mode: "self-hosted"            # or saas, which enforces subscriptions
//
//	secrets:
//	  encryption_key: "${NURSERY_ENCRYPTION_KEY}"
//
//	logging:
//	  level: "info"
//	  format: "text"                 # text or json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
