package channel

import (
	"context"

	domrepo "FxAlert/internal/domain/repository"
	"FxAlert/pkg/logger"
	"FxAlert/pkg/util"
)

// LogClient only logs deliveries. Used for dry runs.
type LogClient struct {
	log *logger.Logger
}

var _ domrepo.ChannelClient = (*LogClient)(nil)

func NewLogClient(l *logger.Logger) *LogClient {
	if l == nil {
		l = logger.Nop()
	}
	return &LogClient{log: l}
}

func (c *LogClient) Deliver(_ context.Context, recipientID, message string) error {
	c.log.Info("dry-run delivery",
		logger.String("recipient_id", recipientID),
		logger.String("message", util.Truncate(message, 200)))
	return nil
}
