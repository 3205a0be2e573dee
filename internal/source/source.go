package source

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dgnsrekt/unitsync/internal/config"
	"github.com/dgnsrekt/unitsync/internal/queue"
	"github.com/dgnsrekt/unitsync/internal/unit"
)

var ErrUnknownKind = errors.New("unknown source kind")

// Source connects to an event producer and pushes decoded units into q until
// ctx is cancelled or the connection is lost. A lost connection is not an
// error: Run logs it and returns nil so that the epoch restarts.
type Source interface {
	Run(ctx context.Context, q *queue.Queue) error
}

// New builds the source selected by cfg.Kind.
func New(cfg config.SourceConfig, logger *zap.Logger) (Source, error) {
	logger = logger.With(zap.String("source", cfg.Kind))
	encoding := unit.Encoding(cfg.Encoding)
	compression := unit.Compression(cfg.Compression)

	switch cfg.Kind {
	case config.SourceWebSocket:
		return NewWebSocket(cfg.URL, WebSocketOptions{
			AuthToken:   cfg.AuthToken,
			Encoding:    encoding,
			Compression: compression,
			DialTimeout: cfg.DialTimeout,
		}, logger), nil
	case config.SourceNATS:
		return NewNATS(cfg.URL, cfg.Subject, NATSOptions{
			Token:       cfg.AuthToken,
			Encoding:    encoding,
			Compression: compression,
			DialTimeout: cfg.DialTimeout,
		}, logger), nil
	case config.SourceReplay:
		return NewReplay(cfg.File, cfg.ReplayInterval, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

func push(q *queue.Queue, units []unit.Unit) {
	for _, u := range units {
		q.Push(u)
	}
}
