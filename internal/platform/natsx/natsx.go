package natsx

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/animus-labs/launchpad/internal/platform/env"
)

type Config struct {
	URL           string
	Name          string
	Token         string
	ReconnectWait time.Duration
	MaxReconnects int
}

func ConfigFromEnv() (Config, error) {
	reconnectWait, err := env.Duration("LAUNCHPAD_NATS_RECONNECT_WAIT", 2*time.Second)
	if err != nil {
		return Config{}, err
	}
	maxReconnects, err := env.Int("LAUNCHPAD_NATS_MAX_RECONNECTS", 60)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		URL:           env.Trimmed("LAUNCHPAD_NATS_URL", nats.DefaultURL),
		Name:          env.Trimmed("LAUNCHPAD_NATS_NAME", "launchpad"),
		Token:         env.Trimmed("LAUNCHPAD_NATS_TOKEN", ""),
		ReconnectWait: reconnectWait,
		MaxReconnects: maxReconnects,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("LAUNCHPAD_NATS_URL is required")
	}
	if c.ReconnectWait < 0 {
		return errors.New("LAUNCHPAD_NATS_RECONNECT_WAIT must be >= 0")
	}
	return nil
}

func Connect(cfg Config, logger *slog.Logger) (*nats.Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if logger != nil {
		opts = append(opts,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn("nats disconnected", "error", err)
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Info("nats reconnected", "url", nc.ConnectedUrl())
			}),
		)
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// Embedded is an in-process NATS server for single-node setups and tests.
type Embedded struct {
	server *server.Server
}

// StartEmbedded starts a server on 127.0.0.1. Port 0 picks a random port.
func StartEmbedded(port int) (*Embedded, error) {
	if port == 0 {
		port = server.RANDOM_PORT
	}
	ns, err := server.NewServer(&server.Options{
		ServerName: "launchpad-embedded",
		Host:       "127.0.0.1",
		Port:       port,
		NoLog:      true,
		NoSigs:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("nats server failed to become ready within 10 seconds")
	}
	return &Embedded{server: ns}, nil
}

func (e *Embedded) ClientURL() string {
	return e.server.ClientURL()
}

func (e *Embedded) Shutdown() {
	if e == nil || e.server == nil {
		return
	}
	e.server.Shutdown()
	e.server.WaitForShutdown()
}
