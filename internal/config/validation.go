package config

import (
	"fmt"
	"sort"
	"strings"
)

// FieldError describes one invalid configuration value
type FieldError struct {
	Key    string
	Value  string
	Reason string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	Fields []FieldError
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Fields) > 0
}

func (e *ValidationErrors) add(key, value, reason string) {
	e.Fields = append(e.Fields, FieldError{Key: key, Value: value, Reason: reason})
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, f := range e.Fields {
		if f.Value == "" {
			sb.WriteString(fmt.Sprintf("  - %s: %s\n", f.Key, f.Reason))
			continue
		}
		sb.WriteString(fmt.Sprintf("  - %s=%q: %s\n", f.Key, f.Value, f.Reason))
	}
	return sb.String()
}

// Validate checks every section and reports all problems at once
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	validateSource(errs, c.Source)
	validateStore(errs, c.Store)

	if c.Batch.FlushInterval <= 0 {
		errs.add("batch.flush_interval", c.Batch.FlushInterval.String(), "must be positive")
	}
	if c.Batch.PollInterval <= 0 {
		errs.add("batch.poll_interval", c.Batch.PollInterval.String(), "must be positive")
	}
	if c.Supervisor.RestartRate < 0 {
		errs.add("supervisor.restart_rate", fmt.Sprint(c.Supervisor.RestartRate), "must be >= 0 (0 disables throttling)")
	}
	if c.Admin.Enabled && c.Admin.Addr == "" {
		errs.add("admin.addr", "", "is required when admin.enabled is true")
	}

	if c.Notify.Enabled {
		if c.Notify.Topic == "" {
			errs.add("notify.topic", "", "is required when notify.enabled is true (set UNITSYNC_NOTIFY_TOPIC)")
		}
		if !validPriorities[c.Notify.Priority] {
			errs.add("notify.priority", c.Notify.Priority, "must be one of "+keys(validPriorities))
		}
		if c.Notify.FailureThreshold < 1 {
			errs.add("notify.failure_threshold", fmt.Sprint(c.Notify.FailureThreshold), "must be >= 1")
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateSource(errs *ValidationErrors, s SourceConfig) {
	if !validSourceKinds[s.Kind] {
		errs.add("source.kind", s.Kind, "must be one of "+keys(validSourceKinds))
		return
	}

	switch s.Kind {
	case SourceWebSocket, SourceNATS:
		if s.URL == "" {
			errs.add("source.url", "", "is required (set UNITSYNC_SOURCE_URL)")
		}
		if !validEncodings[s.Encoding] {
			errs.add("source.encoding", s.Encoding, "must be one of "+keys(validEncodings))
		}
		if !validCompressions[s.Compression] {
			errs.add("source.compression", s.Compression, "must be one of "+keys(validCompressions))
		}
		if s.Kind == SourceNATS && s.Subject == "" {
			errs.add("source.subject", "", "is required for nats sources")
		}
	case SourceReplay:
		if s.File == "" {
			errs.add("source.file", "", "is required for replay sources (set UNITSYNC_SOURCE_FILE)")
		}
	}
}

func validateStore(errs *ValidationErrors, s StoreConfig) {
	if !validStoreKinds[s.Kind] {
		errs.add("store.kind", s.Kind, "must be one of "+keys(validStoreKinds))
		return
	}

	switch s.Kind {
	case StorePostgres:
		if s.Postgres.DSN == "" {
			errs.add("store.postgres.dsn", "", "is required (set UNITSYNC_STORE_POSTGRES_DSN)")
		}
	case StoreRedis:
		if s.Redis.Addr == "" {
			errs.add("store.redis.addr", "", "is required")
		}
	}
}

func keys(m map[string]bool) string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}
