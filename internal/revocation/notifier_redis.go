package revocation

import (
	"context"
	"log/slog"

	platformredis "katha/internal/platform/redis"
	domain "katha/pkg/domain"
)

// revocationChannel is the pub/sub channel collaborators subscribe to.
const revocationChannel = "katha:revocations"

// RedisNotifier publishes committed revocations to a Redis channel. It is
// fire-and-forget: a publish failure is logged and dropped, never surfaced to
// the revoking caller, because the durable row is already committed and is
// the only source of truth.
type RedisNotifier struct {
	client *platformredis.Client
	logger *slog.Logger
}

func NewRedisNotifier(client *platformredis.Client, logger *slog.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, logger: logger}
}

func (n *RedisNotifier) RevocationCommitted(ctx context.Context, tokenID domain.TokenID) {
	if n == nil || n.client == nil {
		return
	}
	if err := n.client.Publish(ctx, revocationChannel, tokenID.String()).Err(); err != nil {
		n.logger.WarnContext(ctx, "revocation notification dropped",
			"token_id", tokenID.String(),
			"error", err,
		)
	}
}
