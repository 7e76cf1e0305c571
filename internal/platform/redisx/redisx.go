package redisx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/animus-labs/launchpad/internal/platform/env"
)

type Config struct {
	URL         string
	Namespace   string
	PingTimeout time.Duration
	ConnectWait time.Duration
}

func ConfigFromEnv() (Config, error) {
	pingTimeout, err := env.Duration("LAUNCHPAD_REDIS_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	connectWait, err := env.Duration("LAUNCHPAD_REDIS_CONNECT_WAIT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		URL:         env.Trimmed("LAUNCHPAD_REDIS_URL", "redis://localhost:6379/0"),
		Namespace:   env.Trimmed("LAUNCHPAD_REDIS_NAMESPACE", "lp"),
		PingTimeout: pingTimeout,
		ConnectWait: connectWait,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("LAUNCHPAD_REDIS_URL is required")
	}
	if strings.TrimSpace(c.Namespace) == "" {
		return errors.New("LAUNCHPAD_REDIS_NAMESPACE is required")
	}
	if c.PingTimeout <= 0 {
		return errors.New("LAUNCHPAD_REDIS_PING_TIMEOUT must be positive")
	}
	if c.ConnectWait < 0 {
		return errors.New("LAUNCHPAD_REDIS_CONNECT_WAIT must be >= 0")
	}
	return nil
}

// Open parses the URL and pings until the server answers or ConnectWait elapses.
// An unparsable URL fails immediately.
func Open(ctx context.Context, cfg Config) (*redis.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	var bo backoff.BackOff = &backoff.StopBackOff{}
	if cfg.ConnectWait > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 200 * time.Millisecond
		exp.MaxInterval = 2 * time.Second
		exp.MaxElapsedTime = cfg.ConnectWait
		bo = exp
	}

	err = backoff.Retry(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Key joins parts under the namespace, e.g. Key("lp", "q", "repository") is "lp:q:repository".
func Key(namespace string, parts ...string) string {
	all := make([]string, 0, len(parts)+1)
	if namespace = strings.TrimSpace(namespace); namespace != "" {
		all = append(all, namespace)
	}
	all = append(all, parts...)
	return strings.Join(all, ":")
}
