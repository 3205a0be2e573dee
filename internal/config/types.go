package config

// Event source kinds.
const (
	SourceWebSocket = "websocket"
	SourceNATS      = "nats"
	SourceReplay    = "replay"
)

// Store kinds.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

var validSourceKinds = map[string]bool{
	SourceWebSocket: true,
	SourceNATS:      true,
	SourceReplay:    true,
}

var validStoreKinds = map[string]bool{
	StorePostgres: true,
	StoreRedis:    true,
	StoreMemory:   true,
}

var validEncodings = map[string]bool{"json": true, "protobuf": true}

var validCompressions = map[string]bool{"none": true, "zstd": true}

var validPriorities = map[string]bool{
	"min": true, "low": true, "default": true, "high": true, "urgent": true,
}
