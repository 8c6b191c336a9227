package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token, so a holder
// whose ttl lapsed cannot release a lock another instance has since taken.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SweepLock elects one instance per sweep tick using SET NX PX.
type SweepLock struct {
	client *redis.Client
	key    string
}

func NewSweepLock(client *redis.Client, key string) *SweepLock {
	if key == "" {
		key = "simulacro:sweep:lock"
	}
	return &SweepLock{client: client, key: key}
}

func (l *SweepLock) TryLock(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		_ = releaseScript.Run(context.Background(), l.client, []string{l.key}, token).Err()
	}, true, nil
}
