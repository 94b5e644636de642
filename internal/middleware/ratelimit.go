package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// SendLimiter throttles message sends per user.
type SendLimiter interface {
	Allow(ctx context.Context, userID int) (bool, error)
}

// NewSendLimiter builds a Redis-backed limiter when a client is provided,
// falling back to an in-process limiter otherwise. The Redis variant shares
// counters across instances; the local one is per-process.
func NewSendLimiter(client *redis.Client, perMinute int) SendLimiter {
	if client != nil {
		return &redisLimiter{client: client, limit: perMinute, window: time.Minute}
	}
	log.Printf("redis disabled, using in-process send limiter")
	return newLocalLimiter(perMinute)
}

// RateLimit rejects requests over the limiter's budget with 429. Limiter
// backend errors fail open: a broken Redis must not block messaging.
func RateLimit(limiter SendLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetInt("userID")
		ok, err := limiter.Allow(c.Request.Context(), userID)
		if err != nil {
			log.Printf("rate limiter error, allowing request: %v", err)
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many messages, slow down"})
			return
		}
		c.Next()
	}
}

type redisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func (l *redisLimiter) Allow(ctx context.Context, userID int) (bool, error) {
	key := fmt.Sprintf("dm:ratelimit:send:%d", userID)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, err
		}
	}
	return count <= int64(l.limit), nil
}

type localLimiter struct {
	mu       sync.Mutex
	limiters map[int]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newLocalLimiter(perMinute int) *localLimiter {
	return &localLimiter{
		limiters: make(map[int]*rate.Limiter),
		rate:     rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
	}
}

func (l *localLimiter) Allow(ctx context.Context, userID int) (bool, error) {
	l.mu.Lock()
	limiter, ok := l.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[userID] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow(), nil
}
