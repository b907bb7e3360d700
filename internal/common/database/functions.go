package database

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/jackc/pgx/v4/pgxpool"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// PostgresConfig holds libpq style connection parameters, e.g. host, port, user, dbname, sslmode.
type PostgresConfig struct {
	Connection map[string]string `validate:"required"`
	// Upper bound on open connections in the pool. Zero leaves the pgxpool default.
	MaxConns int32
}

// CreateConnectionString renders values as a libpq key/value connection string. Keys are sorted
// so the output is stable.
func CreateConnectionString(values map[string]string) string {
	// https://www.postgresql.org/docs/10/libpq-connect.html#id-1.7.3.8.3.5
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	for _, k := range keys {
		parts = append(parts, k+"='"+replacer.Replace(values[k])+"'")
	}
	return strings.Join(parts, " ")
}

// OpenPgxPool opens a pool and pings the server once so that a bad configuration fails fast.
func OpenPgxPool(ctx context.Context, config PostgresConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(CreateConnectionString(config.Connection))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, errors.WithStack(err)
	}
	return db, nil
}

// OpenSqlDb opens a database/sql handle through lib/pq for read paths built with goqu.
func OpenSqlDb(ctx context.Context, config PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", CreateConnectionString(config.Connection))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if config.MaxConns > 0 {
		db.SetMaxOpenConns(int(config.MaxConns))
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WithStack(err)
	}
	return db, nil
}
