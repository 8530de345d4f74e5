// Package rdbms provides the "rdbms" data-source reader. It opens *sql.DB
// handles for sqlite, MySQL and PostgreSQL.
package rdbms

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zjrosen/datasources/internal/datasource"
	"github.com/zjrosen/datasources/internal/log"
)

// Type is the provider key this reader registers under.
const Type = "rdbms"

// Driver names accepted in definition.configuration.driver.
const (
	DriverSQLite   = "sqlite3"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
	DefaultConnMaxIdleTime = 5 * time.Minute
	DefaultPingTimeout     = 10 * time.Second
)

func init() {
	datasource.RegisterReader(Type, func() datasource.Reader { return New() })
}

// OpenFunc opens a database handle.
type OpenFunc func(driver, dsn string) (*sql.DB, error)

// Reader creates *sql.DB data sources.
type Reader struct {
	open OpenFunc
}

// New creates a reader that opens handles with sql.Open.
func New() *Reader {
	return &Reader{open: sql.Open}
}

// NewWithOpener creates a reader with a custom opener.
func NewWithOpener(open OpenFunc) *Reader {
	return &Reader{open: open}
}

// Type implements datasource.Reader.
func (r *Reader) Type() string {
	return Type
}

// CreateDataSource opens a pooled *sql.DB. With "validate: true" the handle is
// pinged before it is returned.
func (r *Reader) CreateDataSource(ctx context.Context, def datasource.Definition) (any, error) {
	opts := datasource.Options(def.Configuration)
	db, driver, err := r.openDB(opts)
	if err != nil {
		return nil, err
	}

	if opts.Bool("validate", false) {
		if err := ping(ctx, db, opts); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	log.Debug(log.CatDB, "Opened database handle", "driver", driver, "max_open", opts.Int("max_open_conns", DefaultMaxOpenConns))
	return db, nil
}

// TestConnection opens, pings and closes a handle.
func (r *Reader) TestConnection(ctx context.Context, def datasource.Definition) error {
	opts := datasource.Options(def.Configuration)
	db, _, err := r.openDB(opts)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return ping(ctx, db, opts)
}

func (r *Reader) openDB(opts datasource.Options) (*sql.DB, string, error) {
	driver, err := NormalizeDriver(opts.String("driver", DriverSQLite))
	if err != nil {
		return nil, "", err
	}
	dsn, err := BuildDSN(driver, opts)
	if err != nil {
		return nil, "", err
	}

	db, err := r.open(driver, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", driver, err)
	}

	db.SetMaxOpenConns(opts.Int("max_open_conns", DefaultMaxOpenConns))
	db.SetMaxIdleConns(opts.Int("max_idle_conns", DefaultMaxIdleConns))
	db.SetConnMaxLifetime(opts.Duration("conn_max_lifetime", DefaultConnMaxLifetime))
	db.SetConnMaxIdleTime(opts.Duration("conn_max_idle_time", DefaultConnMaxIdleTime))
	return db, driver, nil
}

func ping(ctx context.Context, db *sql.DB, opts datasource.Options) error {
	pingCtx, cancel := context.WithTimeout(ctx, opts.Duration("ping_timeout", DefaultPingTimeout))
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// NormalizeDriver maps driver aliases to registered database/sql driver names.
func NormalizeDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "mysql", "mariadb":
		return DriverMySQL, nil
	case "postgres", "postgresql", "pq":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
}

// BuildDSN returns the "dsn" option verbatim when set, otherwise builds one
// from host, port, database, user and password.
func BuildDSN(driver string, opts datasource.Options) (string, error) {
	if dsn := opts.String("dsn", ""); dsn != "" {
		return dsn, nil
	}

	database := opts.String("database", "")
	host := opts.String("host", "localhost")
	user := opts.String("user", "")
	password := opts.String("password", "")

	switch driver {
	case DriverSQLite:
		if database == "" {
			return "", fmt.Errorf("sqlite requires dsn or database")
		}
		return "file:" + database, nil

	case DriverMySQL:
		cfg := mysql.NewConfig()
		cfg.User = user
		cfg.Passwd = password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(host, strconv.Itoa(opts.Int("port", 3306)))
		cfg.DBName = database
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil

	case DriverPostgres:
		u := url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(host, strconv.Itoa(opts.Int("port", 5432))),
			Path:   "/" + database,
		}
		if user != "" {
			if password != "" {
				u.User = url.UserPassword(user, password)
			} else {
				u.User = url.User(user)
			}
		}
		q := url.Values{}
		q.Set("sslmode", opts.String("sslmode", "disable"))
		u.RawQuery = q.Encode()
		return u.String(), nil

	default:
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
}
