// Package redis provides the "redis" data-source reader backed by go-redis.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/zjrosen/datasources/internal/datasource"
	"github.com/zjrosen/datasources/internal/log"
)

// Type is the provider key this reader registers under.
const Type = "redis"

const (
	DefaultAddr        = "localhost:6379"
	DefaultPoolSize    = 10
	DefaultDialTimeout = 5 * time.Second
	DefaultPingTimeout = 5 * time.Second
)

func init() {
	datasource.RegisterReader(Type, func() datasource.Reader { return New() })
}

// Reader creates *goredis.Client data sources.
type Reader struct{}

// New creates a redis reader.
func New() *Reader {
	return &Reader{}
}

// Type implements datasource.Reader.
func (r *Reader) Type() string {
	return Type
}

// CreateDataSource builds a client from the definition. With "validate: true"
// the server is pinged first.
func (r *Reader) CreateDataSource(ctx context.Context, def datasource.Definition) (any, error) {
	opts := datasource.Options(def.Configuration)
	client := goredis.NewClient(ClientOptions(opts))

	if opts.Bool("validate", false) {
		if err := ping(ctx, client, opts); err != nil {
			_ = client.Close()
			return nil, err
		}
	}

	log.Debug(log.CatDB, "Created redis client", "addr", client.Options().Addr, "db", client.Options().DB)
	return client, nil
}

// TestConnection pings the configured server with a short-lived client.
func (r *Reader) TestConnection(ctx context.Context, def datasource.Definition) error {
	opts := datasource.Options(def.Configuration)
	client := goredis.NewClient(ClientOptions(opts))
	defer func() { _ = client.Close() }()
	return ping(ctx, client, opts)
}

// ClientOptions maps definition options onto redis.Options.
func ClientOptions(opts datasource.Options) *goredis.Options {
	return &goredis.Options{
		Addr:         opts.String("addr", DefaultAddr),
		Username:     opts.String("username", ""),
		Password:     opts.String("password", ""),
		DB:           opts.Int("db", 0),
		PoolSize:     opts.Int("pool_size", DefaultPoolSize),
		DialTimeout:  opts.Duration("dial_timeout", DefaultDialTimeout),
		ReadTimeout:  opts.Duration("read_timeout", 0),
		WriteTimeout: opts.Duration("write_timeout", 0),
	}
}

func ping(ctx context.Context, client *goredis.Client, opts datasource.Options) error {
	pingCtx, cancel := context.WithTimeout(ctx, opts.Duration("ping_timeout", DefaultPingTimeout))
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("ping redis %s: %w", client.Options().Addr, err)
	}
	return nil
}
