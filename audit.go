package identityflow

import (
	"io"
	"log/slog"

	internalaudit "github.com/MrEthical07/identityflow/internal/audit"
)

// AuditEvent is one security-relevant record emitted by the Engine.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the Engine's dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink drops audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers audit events on a channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink writes audit events as structured log records.
type SlogSink = internalaudit.SlogSink

// NewChannelSink returns a sink whose Emit blocks on a full buffer until ctx
// is done.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink returns a sink logging each event at level.
func NewSlogSink(logger *slog.Logger, level slog.Level) *SlogSink {
	return internalaudit.NewSlogSink(logger, level)
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *internalaudit.Dispatcher {
	return internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Enabled,
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
	}, sink)
}
