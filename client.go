// Package lento is a streaming client for the Presto/Trino HTTP
// statement protocol: submit a statement on a Client and pull its rows
// from the returned stream.Stream, back-pressured end to end.
package lento

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nilsjohansson/lento/internal/engine"
	"github.com/nilsjohansson/lento/internal/logging"
	"github.com/nilsjohansson/lento/internal/metrics"
	"github.com/nilsjohansson/lento/internal/request"
	"github.com/nilsjohansson/lento/internal/session"
	"github.com/nilsjohansson/lento/internal/transport"
	"github.com/nilsjohansson/lento/stream"
)

// Client is a long-lived handle to one Presto/Trino coordinator. It owns
// one HTTP transport, one session store, and one logger, shared by
// every statement it starts. Safe for concurrent use.
type Client struct {
	cfg    *Config
	engine *engine.Engine
	logger *zap.Logger
}

// New validates the given options and builds a Client against hostname.
// Every other setting takes the default documented on its With* option.
func New(hostname string, opts ...Option) (*Client, error) {
	cfg, err := newConfig(hostname, opts...)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("lento: build logger: %w", err)
	}

	sess := session.New()
	for _, p := range cfg.sessionProperties {
		sess.Seed(p.key, p.value)
	}

	builder := &request.Builder{
		Identity: request.Identity{
			User:               cfg.User,
			Catalog:            cfg.Catalog,
			Schema:             cfg.Schema,
			Timezone:           cfg.Timezone,
			ParametricDatetime: cfg.ParametricDatetime,
		},
		Source:        "lento",
		UserAgent:     "lento 1.0",
		ClientHeaders: cfg.Headers,
		Session:       sess,
	}

	tr := transport.New(cfg.httpClient, cfg.SocketTimeout, logger, metrics.NewTransport(cfg.Registerer))
	target := engine.Target{Scheme: cfg.Protocol, Host: cfg.Hostname, Port: cfg.Port}
	eng := engine.New(target, builder, tr, sess, logger, metrics.NewEngine(cfg.Registerer), cfg.PollInterval, cfg.Deserialize, cfg.MaxRetries)

	return &Client{cfg: cfg, engine: eng, logger: logger}, nil
}

// Query submits sql as a new statement and returns a Stream for pulling
// its rows. sql must be non-empty; opts configure this statement only
// (see stream.WithObserver, stream.WithRowFormat, stream.WithHeaders,
// stream.WithMaxRetries, stream.WithPageSize).
func (c *Client) Query(ctx context.Context, sql string, opts ...stream.Option) (*stream.Stream, error) {
	if sql == "" {
		return nil, inputErrorf("sql", "must not be empty")
	}
	return stream.Start(c.engine, ctx, []byte(sql), opts...), nil
}

// Logger returns the structured logger shared by this client's
// statements, so an embedding application can attach its own fields or
// redirect output.
func (c *Client) Logger() *zap.Logger {
	return c.logger
}
