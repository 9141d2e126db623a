package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// HeaderMsgID carries the event's idempotency key. JetStream streams bound to
// gavel subjects use it to drop redelivered transcript events.
const HeaderMsgID = "Nats-Msg-Id"

// Options configures the broker connection. Zero values take the defaults
// below.
type Options struct {
	URL           string
	Token         string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "gavel"
	}
	if o.MaxReconnects == 0 {
		o.MaxReconnects = 60
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = 2 * time.Second
	}
	return o
}

// Client is a thin wrapper over a NATS connection that publishes JSON.
type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, o Options, logger *slog.Logger) (*Client, error) {
	o = o.withDefaults()
	opts := []nats.Option{
		nats.Name(o.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(o.MaxReconnects),
		nats.ReconnectWait(o.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected, hearing events are buffered", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrlRedacted())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("nats connection closed")
		}),
	}
	if o.Token != "" {
		opts = append(opts, nats.Token(o.Token))
	}

	nc, err := nats.Connect(o.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

// Publish sends data as JSON without an idempotency key.
func (c *Client) Publish(subject string, data any) error {
	return c.PublishEvent(subject, "", data)
}

// PublishEvent sends data as JSON. A non-empty msgID is attached as the
// Nats-Msg-Id header.
func (c *Client) PublishEvent(subject, msgID string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = payload
	if msgID != "" {
		msg.Header.Set(HeaderMsgID, msgID)
	}
	if err := c.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler for subject. The handler receives the message
// id header alongside the payload.
func (c *Client) Subscribe(subject string, handler func(subject, msgID string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		var id string
		if msg.Header != nil {
			id = msg.Header.Get(HeaderMsgID)
		}
		handler(msg.Subject, id, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

func (c *Client) Connected() bool {
	return c.conn.IsConnected()
}

// Drain flushes pending publishes, then closes the connection.
func (c *Client) Drain() error {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.subs = nil
	return c.conn.Drain()
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
