package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/unitsync/internal/config"
)

// Notifier is the interface for sending pipeline notifications.
type Notifier interface {
	SendFlushFailing(ctx context.Context, report FailureReport) error
	SendFlushRecovered(ctx context.Context, report RecoveryReport) error
	SendFatal(ctx context.Context, err error) error
}

// Client implements the ntfy notification client.
type Client struct {
	httpClient *http.Client
	config     config.NotifyConfig
	logger     *zap.Logger
}

// NewClient creates a new ntfy client.
func NewClient(cfg config.NotifyConfig, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

// SendFlushFailing reports a streak of failed flushes.
func (c *Client) SendFlushFailing(ctx context.Context, report FailureReport) error {
	title := fmt.Sprintf("Flush Failing: %d attempts", report.Failures)
	message := FormatFailingMessage(report)
	tags := c.config.Tags + ",warning"

	return c.send(ctx, title, message, tags, "high")
}

// SendFlushRecovered reports the first successful flush after an alert.
func (c *Client) SendFlushRecovered(ctx context.Context, report RecoveryReport) error {
	title := "Flush Recovered"
	message := FormatRecoveredMessage(report)
	tags := c.config.Tags + ",white_check_mark"

	return c.send(ctx, title, message, tags, c.config.Priority)
}

// SendFatal reports that the pipeline stopped on an error.
func (c *Client) SendFatal(ctx context.Context, err error) error {
	title := "Pipeline Stopped"
	message := FormatFatalMessage(err)
	tags := c.config.Tags + ",x"

	return c.send(ctx, title, message, tags, "urgent")
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Server, "/"), c.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

// NoopNotifier is a no-op implementation for when notifications are disabled.
type NoopNotifier struct{}

func (n *NoopNotifier) SendFlushFailing(context.Context, FailureReport) error { return nil }

func (n *NoopNotifier) SendFlushRecovered(context.Context, RecoveryReport) error { return nil }

func (n *NoopNotifier) SendFatal(context.Context, error) error { return nil }

// New creates the appropriate notifier based on config.
func New(cfg config.NotifyConfig, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return &NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
