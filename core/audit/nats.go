package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mintforge/mintd/core/infra/logging"
	"github.com/mintforge/mintd/core/mint"
)

// SubjectTokenIssued is the subject every issued-token record is
// published on.
const SubjectTokenIssued = "mint.token.issued"

// NatsSink publishes issued-token records as JSON onto a NATS subject so
// downstream indexers and dashboards can follow along.
type NatsSink struct {
	nc *nats.Conn
}

// NewNatsSink dials NATS at the provided URL.
func NewNatsSink(url string) (*NatsSink, error) {
	opts := []nats.Option{
		nats.Name("mintd-audit"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Error("audit", "disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("audit", "reconnected to NATS", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NatsSink{nc: nc}, nil
}

func (s *NatsSink) TokenIssued(_ context.Context, record mint.TokenRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := s.nc.Publish(SubjectTokenIssued, payload); err != nil {
		return fmt.Errorf("publish record: %w", err)
	}
	return nil
}

// Close shuts down the underlying NATS connection.
func (s *NatsSink) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}
