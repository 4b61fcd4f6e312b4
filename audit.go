package credcore

import (
	"io"

	internalaudit "github.com/MrEthical07/credcore/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one security-relevant outcome. Secrets and raw tokens are
// never placed in an event.
type AuditEvent = internalaudit.Event

// AuditSink receives events from the Engine's async dispatcher.
type AuditSink = internalaudit.Sink

type NoOpSink = internalaudit.NoOpSink

type ChannelSink = internalaudit.ChannelSink

type JSONWriterSink = internalaudit.JSONWriterSink

// ZapSink logs events through a zap logger.
type ZapSink = internalaudit.ZapSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	return internalaudit.NewZapSink(logger)
}
