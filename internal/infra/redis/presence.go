package redis

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence marks which students hold a live socket on a contest. Each contest
// is a sorted set scored by last heartbeat; members older than ttl are stale.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewPresence(client *redis.Client, ttl time.Duration) *Presence {
	return &Presence{client: client, ttl: ttl, now: time.Now}
}

// Touch records a heartbeat for studentID on contestID.
func (p *Presence) Touch(ctx context.Context, contestID, studentID string) error {
	key := p.key(contestID)
	pipe := p.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(p.now().UnixMilli()), Member: studentID})
	pipe.Expire(ctx, key, 2*p.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Leave removes studentID and drops the key once nobody is left.
func (p *Presence) Leave(ctx context.Context, contestID, studentID string) error {
	key := p.key(contestID)
	if err := p.client.ZRem(ctx, key, studentID).Err(); err != nil {
		return err
	}
	n, err := p.client.ZCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return p.client.Del(ctx, key).Err()
	}
	return nil
}

// Online lists the students with a heartbeat inside the ttl window.
func (p *Presence) Online(ctx context.Context, contestID string) ([]string, error) {
	cutoff := p.now().Add(-p.ttl).UnixMilli()
	members, err := p.client.ZRangeByScore(ctx, p.key(contestID), &redis.ZRangeBy{
		Min: strconv.FormatInt(cutoff, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}

func (p *Presence) key(contestID string) string {
	return "contest:presence:" + contestID
}
