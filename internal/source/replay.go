package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/unitsync/internal/queue"
	"github.com/dgnsrekt/unitsync/internal/unit"
)

// Replay streams a recorded JSONL file, one frame per line, pausing interval
// between frames. Reaching the end of the file is treated like a disconnect.
type Replay struct {
	path     string
	interval time.Duration
	logger   *zap.Logger
}

func NewReplay(path string, interval time.Duration, logger *zap.Logger) *Replay {
	return &Replay{path: path, interval: interval, logger: logger}
}

func (r *Replay) Run(ctx context.Context, q *queue.Queue) error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)

	var lines, units int
	for scanner.Scan() {
		if ctx.Err() != nil {
			r.logger.Debug("replay cancelled", zap.Int("lines", lines))
			return nil
		}
		lines++

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		decoded, err := unit.DecodeJSON(line)
		if err != nil {
			r.logger.Debug("skipping malformed line", zap.Int("line", lines), zap.Error(err))
			continue
		}
		push(q, decoded)
		units += len(decoded)

		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		}
	}

	if err := scanner.Err(); err != nil {
		r.logger.Warn("replay read failed", zap.Int("line", lines), zap.Error(err))
		return nil
	}

	r.logger.Info("replay finished", zap.String("file", r.path), zap.Int("lines", lines), zap.Int("units", units))
	return nil
}
