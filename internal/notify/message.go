package notify

import (
	"fmt"
	"strings"
	"time"
)

// FailureReport summarizes a run of consecutive failed flushes.
type FailureReport struct {
	Failures int
	Since    time.Time
	Updated  int
	Deleted  int
	Err      error
}

// RecoveryReport summarizes the flush that ended a failure streak.
type RecoveryReport struct {
	Failures int
	Outage   time.Duration
	Updated  int
	Deleted  int
}

// FormatFailingMessage creates a flush failure notification body.
func FormatFailingMessage(r FailureReport) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Consecutive failures: %d\n", r.Failures))
	sb.WriteString(fmt.Sprintf("Failing since: %s\n", r.Since.UTC().Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Retained updates: %d\n", r.Updated))
	sb.WriteString(fmt.Sprintf("Retained deletes: %d", r.Deleted))

	if r.Err != nil {
		sb.WriteString(fmt.Sprintf("\n\nError: %v", r.Err))
	}

	return sb.String()
}

// FormatRecoveredMessage creates a recovery notification body.
func FormatRecoveredMessage(r RecoveryReport) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Failed attempts: %d\n", r.Failures))
	sb.WriteString(fmt.Sprintf("Outage: %s\n", r.Outage.Round(time.Second)))
	sb.WriteString(fmt.Sprintf("Flushed updates: %d\n", r.Updated))
	sb.WriteString(fmt.Sprintf("Flushed deletes: %d", r.Deleted))

	return sb.String()
}

// FormatFatalMessage creates a notification body for a stopped pipeline.
func FormatFatalMessage(err error) string {
	if err == nil {
		return "Pipeline stopped without an error."
	}
	return fmt.Sprintf("Error: %v", err)
}
