package ingest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/signalstack/signal-engine/internal/config"
	"github.com/signalstack/signal-engine/internal/models"
)

// NATSSource subscribes to an observation subject and feeds decoded
// messages through the same Submit path as HTTP ingest, so NATS traffic
// gets the same validation and backpressure. The connector is optional.
type NATSSource struct {
	logger   *slog.Logger
	conn     *nats.Conn
	sub      *nats.Subscription
	ingestor *Ingestor

	received atomic.Int64
	dropped  atomic.Int64
}

// NewNATSSource connects and subscribes. A failed connection is returned
// to the caller; the engine runs without the connector.
func NewNATSSource(cfg config.NATSConfig, ingestor *Ingestor, logger *slog.Logger) (*NATSSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.URL, nats.Name(cfg.Name))
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", cfg.URL, err)
	}

	src := &NATSSource{logger: logger, conn: conn, ingestor: ingestor}
	sub, err := conn.Subscribe(cfg.Subject, src.handle)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", cfg.Subject, err)
	}
	src.sub = sub

	logger.Info("nats source connected",
		slog.String("url", cfg.URL), slog.String("subject", cfg.Subject))
	return src, nil
}

func (s *NATSSource) handle(msg *nats.Msg) {
	s.received.Add(1)

	var obs models.Observation
	if err := json.Unmarshal(msg.Data, &obs); err != nil {
		s.dropped.Add(1)
		s.logger.Warn("undecodable observation message",
			slog.String("subject", msg.Subject), slog.Any("error", err))
		return
	}

	if err := s.ingestor.Submit(obs); err != nil {
		s.dropped.Add(1)
		s.logger.Warn("nats observation rejected",
			slog.String("signal_id", obs.SignalID), slog.Any("error", err))
	}
}

// Received returns the total messages seen on the subject.
func (s *NATSSource) Received() int64 { return s.received.Load() }

// Dropped returns the messages that failed decoding or submission.
func (s *NATSSource) Dropped() int64 { return s.dropped.Load() }

// Close unsubscribes and drops the connection.
func (s *NATSSource) Close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	if s.conn != nil {
		s.conn.Close()
	}
}
