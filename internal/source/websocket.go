package source

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/unitsync/internal/queue"
	"github.com/dgnsrekt/unitsync/internal/unit"
)

const (
	// Time allowed to write a control message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next message or pong from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size accepted from the peer.
	maxMessageSize = 4 * 1024 * 1024 // 4MB
)

type WebSocketOptions struct {
	AuthToken   string
	Encoding    unit.Encoding
	Compression unit.Compression
	DialTimeout time.Duration
}

// WebSocket reads unit frames from a websocket endpoint. Text and binary
// frames are both accepted; the payload format comes from the options.
type WebSocket struct {
	url        string
	header     http.Header
	dialer     *websocket.Dialer
	opts       WebSocketOptions
	pongWait   time.Duration
	pingPeriod time.Duration
	logger     *zap.Logger
}

func NewWebSocket(url string, opts WebSocketOptions, logger *zap.Logger) *WebSocket {
	if opts.Encoding == "" {
		opts.Encoding = unit.EncodingJSON
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}

	header := http.Header{}
	if opts.AuthToken != "" {
		header.Set("Authorization", "Bearer "+opts.AuthToken)
	}

	return &WebSocket{
		url:    url,
		header: header,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.DialTimeout,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  1024,
		},
		opts:       opts,
		pongWait:   pongWait,
		pingPeriod: pingPeriod,
		logger:     logger,
	}
}

func (w *WebSocket) Run(ctx context.Context, q *queue.Queue) error {
	decoder, err := unit.NewDecoder(w.opts.Encoding, w.opts.Compression)
	if err != nil {
		return err
	}
	defer decoder.Close()

	conn, resp, err := w.dialer.DialContext(ctx, w.url, w.header)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		w.logger.Warn("websocket dial failed",
			zap.String("url", w.url),
			zap.Int("status", status),
			zap.Error(err),
		)
		return nil
	}
	defer conn.Close()

	w.logger.Info("source connected", zap.String("url", w.url))

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(w.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(w.pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go w.keepalive(ctx, conn, done)

	var frames, units int
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			fields := []zap.Field{zap.Int("frames", frames), zap.Int("units", units)}
			switch {
			case ctx.Err() != nil:
				w.logger.Debug("source cancelled", fields...)
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				w.logger.Info("source closed connection", fields...)
			default:
				w.logger.Warn("source disconnected", append(fields, zap.Error(err))...)
			}
			return nil
		}
		frames++

		// Any message from the peer proves it is alive.
		conn.SetReadDeadline(time.Now().Add(w.pongWait))

		decoded, err := decoder.Decode(frame)
		if err != nil {
			w.logger.Debug("dropping undecodable frame",
				zap.Int("size", len(frame)),
				zap.Error(err),
			)
			continue
		}
		push(q, decoded)
		units += len(decoded)
	}
}

// keepalive pings the peer. It closes the connection when ctx ends or a ping
// cannot be written, which unblocks the pending read in Run.
func (w *WebSocket) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(w.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			_ = conn.Close()
			return

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				w.logger.Debug("websocket ping failed", zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}
}
