// Package relaydesk provides a top-level convenience entry point for
// embedding the handoff core without the HTTP server.
//
// Usage:
//
//	import "github.com/relaydesk/relaydesk"
//
//	core, err := relaydesk.New(db)
//	core, err := relaydesk.New(db, relaydesk.WithLogger(logger), relaydesk.WithCache(cacheMgr))
//
// New wires the registry, directory, relay, and coordinator onto the
// given database handle and migrates the schema. Use cmd/relaydesk when
// you want the full HTTP service instead.
package relaydesk

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/relaydesk/relaydesk/directory"
	"github.com/relaydesk/relaydesk/dispatch"
	"github.com/relaydesk/relaydesk/internal/cache"
	"github.com/relaydesk/relaydesk/internal/database"
	"github.com/relaydesk/relaydesk/internal/metrics"
	"github.com/relaydesk/relaydesk/registry"
	"github.com/relaydesk/relaydesk/relay"
)

// Core bundles the handoff services over one database handle.
type Core struct {
	Registry    *registry.Registry
	Directory   *directory.Directory
	Relay       *relay.Relay
	Coordinator *dispatch.Coordinator

	pool *database.PoolManager
}

// Option configures the core created by [New].
type Option func(*coreOptions)

type coreOptions struct {
	logger    *zap.Logger
	cache     *cache.Manager
	collector *metrics.Collector
	pool      database.PoolConfig
}

// WithLogger sets the logger shared by all services.
func WithLogger(logger *zap.Logger) Option {
	return func(o *coreOptions) { o.logger = logger }
}

// WithCache enables the Redis fast paths (agent presence, escalation
// dedup). Without it the core runs database-only.
func WithCache(m *cache.Manager) Option {
	return func(o *coreOptions) { o.cache = m }
}

// WithMetrics attaches a metrics collector to the services.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *coreOptions) { o.collector = c }
}

// WithPoolConfig overrides the connection pool settings.
func WithPoolConfig(cfg database.PoolConfig) Option {
	return func(o *coreOptions) { o.pool = cfg }
}

// New builds the handoff core on db and migrates the schema.
func New(db *gorm.DB, opts ...Option) (*Core, error) {
	o := coreOptions{pool: database.DefaultPoolConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	pool, err := database.NewPoolManager(db, o.pool, o.logger)
	if err != nil {
		return nil, err
	}

	reg := registry.New(db, o.logger)
	if err := reg.InitDatabase(context.Background()); err != nil {
		return nil, err
	}

	dir := directory.New(db, o.cache, o.logger)
	return &Core{
		Registry:    reg,
		Directory:   dir,
		Relay:       relay.New(pool, reg, o.collector, o.logger),
		Coordinator: dispatch.New(pool, reg, dir, o.collector, o.logger),
		pool:        pool,
	}, nil
}

// Close shuts down the connection pool, closing the underlying db handle.
func (c *Core) Close() error {
	return c.pool.Close()
}
