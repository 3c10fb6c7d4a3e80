package queue

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// ParseRedisURL parses a Redis URL and returns asynq.RedisClientOpt
// Supports formats:
//   - redis://[:password@]host:port[/db]
//   - rediss://[:password@]host:port[/db] (TLS)
//   - host:port (no password)
func ParseRedisURL(redisURL string) (asynq.RedisClientOpt, error) {
	opt := asynq.RedisClientOpt{}

	if !strings.Contains(redisURL, "://") {
		if redisURL == "" {
			return opt, fmt.Errorf("redis URL is empty")
		}
		opt.Addr = redisURL
		return opt, nil
	}

	u, err := url.Parse(redisURL)
	if err != nil {
		return opt, fmt.Errorf("invalid redis URL: %w", err)
	}

	switch u.Scheme {
	case "redis":
	case "rediss":
		opt.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	default:
		return opt, fmt.Errorf("unsupported redis URL scheme: %s (expected 'redis' or 'rediss')", u.Scheme)
	}

	if u.Host == "" {
		return opt, fmt.Errorf("redis URL missing host")
	}
	opt.Addr = u.Host

	if u.User != nil {
		opt.Username = u.User.Username()
		if password, ok := u.User.Password(); ok {
			opt.Password = password
		}
	}

	if u.Path != "" && u.Path != "/" {
		dbStr := strings.TrimPrefix(u.Path, "/")
		db, err := strconv.Atoi(dbStr)
		if err != nil || db < 0 {
			return opt, fmt.Errorf("invalid database number in redis URL: %s", dbStr)
		}
		opt.DB = db
	}

	return opt, nil
}

// RedisOptions converts a Redis URL into go-redis options so the shared
// rate limiter talks to the same instance as the task queue.
func RedisOptions(redisURL string) (*redis.Options, error) {
	opt, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &redis.Options{
		Addr:      opt.Addr,
		Username:  opt.Username,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}
