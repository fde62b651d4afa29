package push

import (
	"context"

	"go.uber.org/zap"
)

// NoopGateway stands in when push credentials are absent at startup. Every
// send reports zero deliveries so the visitor flow keeps working without a
// configured provider.
type NoopGateway struct {
	log *zap.Logger
}

// NewNoopGateway creates the degraded gateway.
func NewNoopGateway(log *zap.Logger) *NoopGateway {
	log.Warn("push credentials not configured; notifications are disabled")
	return &NoopGateway{log: log}
}

func (g *NoopGateway) Name() string { return "noop" }

func (g *NoopGateway) Send(_ context.Context, tokens []string, msg Message) (Result, error) {
	g.log.Debug("dropping push (no provider configured)",
		zap.Int("tokens", len(tokens)),
		zap.String("title", msg.Title))
	return Result{}, nil
}
