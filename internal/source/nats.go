package source

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/dgnsrekt/unitsync/internal/queue"
	"github.com/dgnsrekt/unitsync/internal/unit"
)

type NATSOptions struct {
	Token       string
	Encoding    unit.Encoding
	Compression unit.Compression
	DialTimeout time.Duration
}

// NATS subscribes to a subject and treats every message as one frame.
// Reconnects are disabled; the supervisor owns reconnection by starting a new
// epoch.
type NATS struct {
	url     string
	subject string
	opts    NATSOptions
	logger  *zap.Logger
}

func NewNATS(url, subject string, opts NATSOptions, logger *zap.Logger) *NATS {
	if opts.Encoding == "" {
		opts.Encoding = unit.EncodingJSON
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	return &NATS{url: url, subject: subject, opts: opts, logger: logger}
}

func (n *NATS) Run(ctx context.Context, q *queue.Queue) error {
	decoder, err := unit.NewDecoder(n.opts.Encoding, n.opts.Compression)
	if err != nil {
		return err
	}
	defer decoder.Close()

	closed := make(chan struct{})
	options := []nats.Option{
		nats.Name("unitsync"),
		nats.Timeout(n.opts.DialTimeout),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil && ctx.Err() == nil {
				n.logger.Warn("source disconnected", zap.Error(err))
			}
		}),
		nats.ClosedHandler(func(*nats.Conn) { close(closed) }),
	}
	if n.opts.Token != "" {
		options = append(options, nats.Token(n.opts.Token))
	}

	nc, err := nats.Connect(n.url, options...)
	if err != nil {
		n.logger.Warn("nats connect failed", zap.String("url", n.url), zap.Error(err))
		return nil
	}
	defer nc.Close()

	sub, err := nc.Subscribe(n.subject, n.handler(decoder, q))
	if err != nil {
		n.logger.Warn("nats subscribe failed", zap.String("subject", n.subject), zap.Error(err))
		return nil
	}
	defer sub.Unsubscribe()

	n.logger.Info("source connected",
		zap.String("url", nc.ConnectedUrlRedacted()),
		zap.String("subject", n.subject),
	)

	select {
	case <-ctx.Done():
		n.logger.Debug("source cancelled")
	case <-closed:
		n.logger.Info("source connection closed")
	}
	return nil
}

// handler runs on the subscription's delivery goroutine, so the decoder is
// never used concurrently.
func (n *NATS) handler(decoder *unit.Decoder, q *queue.Queue) nats.MsgHandler {
	return func(msg *nats.Msg) {
		units, err := decoder.Decode(msg.Data)
		if err != nil {
			n.logger.Debug("dropping undecodable message",
				zap.String("subject", msg.Subject),
				zap.Int("size", len(msg.Data)),
				zap.Error(err),
			)
			return
		}
		push(q, units)
	}
}
