package notify

import (
	"context"
	"log/slog"
	"slices"

	"github.com/MrEthical07/identityflow"
)

// LogSender logs each notification instead of delivering it. Payload values
// carry token codes and are never logged; only their keys are.
type LogSender struct {
	logger *slog.Logger
	level  slog.Level
}

func NewLogSender(logger *slog.Logger, level slog.Level) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger, level: level}
}

func (s *LogSender) Send(ctx context.Context, user identityflow.User, templateKey string, payload map[string]string) error {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	s.logger.Log(ctx, s.level, "notification",
		slog.String("user_id", user.ID),
		slog.String("template", templateKey),
		slog.Any("payload_keys", keys),
	)
	return nil
}
