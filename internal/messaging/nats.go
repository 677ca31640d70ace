// Package messaging publishes verifier decisions to NATS for downstream
// metering and settlement consumers.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	SubjectValidPackets   = "packets.valid"
	SubjectInvalidPackets = "packets.invalid"
)

// Publisher sends one encoded message to a subject.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type Config struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "packet-verifier"
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = -1
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	return c
}

// Client is a NATS connection that satisfies Publisher.
type Client struct {
	conn *nats.Conn
	log  *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	log = log.Named("nats")

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("disconnected from NATS", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Client{conn: conn, log: log}, nil
}

func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Close flushes buffered messages and closes the connection.
func (c *Client) Close() error {
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return err
	}
	return nil
}

// Sink writes packets of one kind as JSON to a fixed subject.
type Sink[T any] struct {
	pub     Publisher
	subject string
}

func NewSink[T any](pub Publisher, subject string) *Sink[T] {
	return &Sink[T]{pub: pub, subject: subject}
}

func (s *Sink[T]) Write(ctx context.Context, packet T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(packet)
	if err != nil {
		return fmt.Errorf("encode packet: %w", err)
	}
	if err := s.pub.Publish(s.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", s.subject, err)
	}
	return nil
}
