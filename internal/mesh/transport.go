// Package mesh carries packages between nodes over NATS subjects.
//
// Every node listens on <prefix>.<node id>.pkg for packages addressed to it
// and on <prefix>.<node id>.cmd.* for operator commands.
package mesh

import (
	"context"
	"fmt"
	"time"

	"github.com/stone-age-io/fieldnode/internal/report"
	"github.com/stone-age-io/fieldnode/internal/wire"
	"go.uber.org/zap"
)

// PackageSubject returns the subject a node receives packages on
func PackageSubject(prefix string, node uint32) string {
	return fmt.Sprintf("%s.%d.pkg", prefix, node)
}

// CommandSubject returns the subject of a node's command
func CommandSubject(prefix string, node uint32, command string) string {
	return fmt.Sprintf("%s.%d.cmd.%s", prefix, node, command)
}

// Publisher sends raw packages
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Transport sends reports to their destination node
type Transport struct {
	publisher Publisher
	prefix    string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewTransport creates a report transport publishing under prefix.
// Each send is bounded by timeout.
func NewTransport(publisher Publisher, prefix string, timeout time.Duration, logger *zap.Logger) *Transport {
	return &Transport{
		publisher: publisher,
		prefix:    prefix,
		timeout:   timeout,
		logger:    logger,
	}
}

// SendReport encodes r and publishes it to the destination's package
// subject. It returns once the mesh accepted the package or the send
// timeout expired.
func (t *Transport) SendReport(ctx context.Context, r report.Record) error {
	data, err := wire.Encode(r)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	subject := PackageSubject(t.prefix, r.Destination())
	if err := t.publisher.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to send report %s: %w", r.FileName(), err)
	}

	t.logger.Debug("Report sent",
		zap.String("subject", subject),
		zap.String("artifact", r.FileName()),
		zap.Int("bytes", len(data)))
	return nil
}
