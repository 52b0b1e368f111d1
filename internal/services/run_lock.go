package services

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/reachforge/outreach-engine/pkg/logger"
	"github.com/reachforge/outreach-engine/pkg/redis"
)

// ErrRunInProgress means another dispatcher or poller invocation holds the
// campaign's run lock. Callers treat it as "try again later", not a failure.
var ErrRunInProgress = errors.New("campaign run already in progress")

// RunLock serializes batch runs per campaign through a Redis SET NX key.
// Dispatch, follow-up and reconciliation runs share the same key, so two
// instances never walk the same campaign's contacts concurrently. The TTL
// bounds how long a crashed run can wedge a campaign.
type RunLock struct {
	redis redis.RedisAdapter
	ttl   time.Duration
}

func NewRunLock(redisAdapter redis.RedisAdapter, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RunLock{
		redis: redisAdapter,
		ttl:   ttl,
	}
}

// Acquire takes the campaign's run lock and returns a release func. Returns
// ErrRunInProgress when the lock is already held.
func (l *RunLock) Acquire(campaignID int64) (func(), error) {
	key := l.key(campaignID)
	acquired, err := l.redis.SetNX(key, []byte(strconv.FormatInt(time.Now().Unix(), 10)), l.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !acquired {
		return nil, ErrRunInProgress
	}

	release := func() {
		if err := l.redis.Del(key); err != nil {
			logger.Warn("failed to release run lock, will expire via TTL",
				"campaign_id", campaignID, "error", err)
		}
	}
	return release, nil
}

func (l *RunLock) key(campaignID int64) string {
	return "campaign_run_lock:" + strconv.FormatInt(campaignID, 10)
}
