package mesh

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/stone-age-io/fieldnode/internal/config"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Publish while the mesh is unreachable.
// Nothing is buffered for later delivery.
var ErrNotConnected = errors.New("mesh not connected")

// Client manages the NATS connection and provides methods for publishing and subscribing
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
	config *config.MeshConfig
}

// NewClient connects to the mesh with the specified configuration. An
// unreachable mesh is not an error: the client keeps connecting in the
// background and Publish fails until it succeeds.
func NewClient(cfg *config.MeshConfig, name string, logger *zap.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.RetryOnFailedConnect(true),
		// a failed send must not be delivered later from the reconnect buffer
		nats.ReconnectBufSize(-1),
		nats.ConnectHandler(func(nc *nats.Conn) {
			logger.Info("Mesh connection established", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Mesh disconnected", zap.Error(err))
			} else {
				logger.Info("Mesh disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Mesh reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("Mesh connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("Mesh error",
				zap.Error(err),
				zap.String("subject", subject))
		}),
	}

	// Pass all URLs for automatic failover
	serverURLs := strings.Join(cfg.URLs, ",")
	logger.Info("Connecting to mesh", zap.Strings("urls", cfg.URLs))
	conn, err := nats.Connect(serverURLs, opts...)
	if err != nil {
		return nil, err
	}

	if conn.IsConnected() {
		logger.Info("Connected to mesh",
			zap.String("url", conn.ConnectedUrl()),
			zap.String("server_id", conn.ConnectedServerId()))
	} else {
		logger.Warn("Mesh unreachable, connecting in the background")
	}

	client := &Client{
		conn:   conn,
		logger: logger,
		config: cfg,
	}

	if !cfg.JetStream {
		return client, nil
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	// Fail fast here rather than on the first report when the server is
	// already reachable; otherwise the first report surfaces the problem
	if conn.IsConnected() {
		if _, err := js.AccountInfo(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("JetStream not available on mesh server (is JetStream enabled?): %w", err)
		}
		logger.Info("JetStream validated successfully")
	}

	client.js = js
	return client, nil
}

// Publish sends data on subject and waits until the mesh has accepted it:
// a JetStream ack when JetStream is enabled, a flush round trip otherwise.
// ctx must carry a deadline. It returns ErrNotConnected without sending
// while the mesh is unreachable.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if !c.conn.IsConnected() {
		return fmt.Errorf("failed to publish to %s: %w", subject, ErrNotConnected)
	}

	if c.js != nil {
		return c.publishJetStream(ctx, subject, data)
	}

	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	if err := c.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush publish to %s: %w", subject, err)
	}

	c.logger.Debug("Published",
		zap.String("subject", subject),
		zap.Int("bytes", len(data)))
	return nil
}

func (c *Client) publishJetStream(ctx context.Context, subject string, data []byte) error {
	pubAckFuture, err := c.js.PublishAsync(subject, data)
	if err != nil {
		return fmt.Errorf("failed to queue publish to %s: %w", subject, err)
	}

	select {
	case <-pubAckFuture.Ok():
		c.logger.Debug("Published (JetStream)",
			zap.String("subject", subject),
			zap.Int("bytes", len(data)))
		return nil

	case err := <-pubAckFuture.Err():
		return fmt.Errorf("failed to publish to %s: %w", subject, err)

	case <-ctx.Done():
		return fmt.Errorf("publish to %s not acknowledged: %w", subject, ctx.Err())
	}
}

// Subscribe creates a subscription to the specified subject
func (c *Client) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		c.logger.Error("Failed to subscribe",
			zap.String("subject", subject),
			zap.Error(err))
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	c.logger.Info("Subscribed to subject", zap.String("subject", subject))
	return sub, nil
}

// Drain gracefully closes the connection by draining all subscriptions
// and waiting for in-flight messages to complete
func (c *Client) Drain(ctx context.Context) error {
	c.logger.Info("Draining mesh connection")

	if c.conn.IsClosed() {
		c.logger.Info("Connection already closed")
		return nil
	}
	if !c.conn.IsConnected() {
		c.logger.Info("Mesh not connected, closing without drain")
		c.conn.Close()
		return nil
	}

	drainDone := make(chan error, 1)
	go func() {
		drainDone <- c.conn.Drain()
	}()

	select {
	case err := <-drainDone:
		if err != nil {
			c.logger.Error("Error during mesh drain", zap.Error(err))
			return err
		}
		c.logger.Info("Mesh drain completed successfully")
		return nil

	case <-ctx.Done():
		c.logger.Warn("Mesh drain timeout, forcing close")
		c.conn.Close()
		return fmt.Errorf("drain interrupted: %w", ctx.Err())
	}
}

// Close immediately closes the connection
func (c *Client) Close() {
	c.logger.Info("Closing mesh connection")
	c.conn.Close()
}

// IsConnected returns true if the connection is currently active
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// Stats returns connection statistics
func (c *Client) Stats() nats.Statistics {
	return c.conn.Stats()
}
