// Package natsbridge mirrors project events onto NATS subjects of the form
// <prefix>.<project>.<type>.
package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/events"
)

// DefaultPrefix is used when no subject prefix is configured.
const DefaultPrefix = "ryze.events"

type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// Bridge is an events.Sink that republishes every event. Deliver never
// blocks on the network; nats buffers outgoing messages.
type Bridge struct {
	nc     conn
	prefix string
	logger *zap.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// Connect dials url and returns a bridge publishing under prefix.
func Connect(url, prefix string, logger *zap.Logger) (*Bridge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("ryze"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return newBridge(nc, prefix, logger), nil
}

func newBridge(nc conn, prefix string, logger *zap.Logger) *Bridge {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{nc: nc, prefix: prefix, logger: logger}
}

// Subject returns the subject an event of kind for projectID is sent on.
func (b *Bridge) Subject(projectID string, kind events.Kind) string {
	return b.prefix + "." + token(projectID) + "." + token(string(kind))
}

// token makes s safe as a single subject token.
func token(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '.', r == '*', r == '>', r <= ' ':
			return '_'
		}
		return r
	}, s)
}

// Deliver implements events.Sink.
func (b *Bridge) Deliver(ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.failed.Add(1)
		b.logger.Warn("failed to encode event for nats", zap.Error(err))
		return
	}
	subject := b.Subject(ev.ProjectID, ev.Type)
	if err := b.nc.Publish(subject, data); err != nil {
		b.failed.Add(1)
		b.logger.Warn("failed to publish event to nats",
			zap.String("subject", subject),
			zap.Uint64("seq", ev.Seq),
			zap.Error(err))
		return
	}
	b.published.Add(1)
}

// Stats returns the number of events published and dropped.
func (b *Bridge) Stats() (published, failed uint64) {
	return b.published.Load(), b.failed.Load()
}

// Run blocks until ctx ends, then drains the connection.
func (b *Bridge) Run(ctx context.Context) error {
	<-ctx.Done()
	return b.Close()
}

// Close flushes pending messages and closes the connection.
func (b *Bridge) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
