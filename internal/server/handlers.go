package server

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/dgnsrekt/unitsync/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StatusSource reports pipeline state and serves its metrics.
type StatusSource interface {
	Snapshot() metrics.Status
	Handler() http.Handler
}

type Server struct {
	source  StatusSource
	metrics http.Handler
	logger  *zap.Logger
}

func NewServer(source StatusSource, logger *zap.Logger) *Server {
	return &Server{
		source:  source,
		metrics: source.Handler(),
		logger:  logger,
	}
}

// Healthz reports 200 while an epoch is running and 503 between epochs.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	if !s.source.Snapshot().EpochRunning {
		http.Error(w, "no active epoch", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.source.Snapshot()); err != nil {
		s.logger.Warn("failed to write status", zap.Error(err))
	}
}
