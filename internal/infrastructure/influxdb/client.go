package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/config"
)

var (
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrNotConnected     = errors.New("influxdb: not connected")
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds

	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second
	drainTimeout   = 5 * time.Second
)

// Option configures a Client at Connect.
type Option func(*Client)

// WithOnWriteError registers fn to receive failed batch writes. Writes are
// asynchronous, so this is the only place they surface.
func WithOnWriteError(fn func(error)) Option {
	return func(c *Client) { c.onWriteError = fn }
}

// Client records root executions and telemetry block points in one
// InfluxDB bucket. Points are batched and written in the background.
// A zero Client drops every write.
type Client struct {
	client influxdb2.Client
	writer api.WriteAPI

	onWriteError func(error)
	closed       atomic.Bool
	drained      chan struct{}
}

// Connect pings the server in cfg and opens a batching writer on its
// bucket. It returns ErrDisabled when cfg.Enabled is false.
func Connect(cfg config.InfluxDBConfig, opts ...Option) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batch := orDefault(cfg.BatchSize, defaultBatchSize)
	flush := time.Duration(orDefault(cfg.FlushInterval, defaultFlushInterval)) * time.Second
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batch)). // #nosec G115 -- orDefault returns a positive value
			SetFlushInterval(uint(flush.Milliseconds())))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		client:  client,
		writer:  client.WriteAPI(cfg.Org, cfg.Bucket),
		drained: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.drainErrors(c.writer.Errors())
	return c, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return errors.New("server not healthy")
	}
	return nil
}

// drainErrors forwards batch failures until the writer closes its channel.
func (c *Client) drainErrors(errs <-chan error) {
	defer close(c.drained)
	for err := range errs {
		if c.onWriteError != nil {
			c.onWriteError(err)
		}
	}
}

// Close writes out buffered points and closes the connection. Later writes
// are dropped. Close is idempotent.
func (c *Client) Close() error {
	if c.client == nil || c.closed.Swap(true) {
		return nil
	}
	c.writer.Flush()
	c.client.Close()

	select {
	case <-c.drained:
	case <-time.After(drainTimeout):
	}
	return nil
}

// IsConnected reports whether writes are being accepted.
func (c *Client) IsConnected() bool {
	return c.client != nil && !c.closed.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}
