// Package config provides application configuration management from environment variables.
//
// # Configuration Structure
//
// Server settings:
//
//	GIRDER_HOST="0.0.0.0"
//	GIRDER_PORT="8080"
//	GIRDER_HEALTH_PORT="9090"
//	GIRDER_READ_TIMEOUT="15s"
//	GIRDER_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	GIRDER_POSTGRES_URL="postgres://localhost/girder"
//	GIRDER_POSTGRES_MAX_CONNS="25"
//	GIRDER_REDIS_URL="redis://localhost:6379"
//	GIRDER_REDIS_POOL_SIZE="10"
//
// Authorization settings:
//
//	GIRDER_CACHE_TTL="5m"
//	GIRDER_L1_CACHE_SIZE="1024"
//	GIRDER_L1_CACHE_TTL="5s"
//	GIRDER_SWEEP_SCHEDULE="*/10 * * * *"
//
// Observability settings:
//
//	GIRDER_LOG_LEVEL="info"  # debug, info, warn, error
//	GIRDER_METRICS_ENABLED="true"
//	GIRDER_OTEL_ENABLED="true"
//	GIRDER_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Snapshot TTL: %s\n", cfg.Authz.SnapshotTTL)
//
// # Related Packages
//
//   - pkg/rbac: Uses the authorization tunables
//   - pkg/observability: Uses observability configuration
package config
