package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/callrelay/callrelay/internal/common/util"
)

const (
	testConnectionStringEnvVar = "CALLRELAY_TEST_POSTGRES"
	defaultTestConnection      = "host=localhost port=5432 user=postgres password=psw sslmode=disable"
)

// WithTestDb creates a dedicated, migrated database for the duration of action and drops it
// afterwards. The test is skipped when no postgres server is reachable.
func WithTestDb(t *testing.T, migrations []Migration, action func(db *pgxpool.Pool)) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	connectionString := defaultTestConnection
	if v, ok := os.LookupEnv(testConnectionStringEnvVar); ok {
		connectionString = v
	}

	connectCtx, connectCancel := context.WithTimeout(ctx, 2*time.Second)
	defer connectCancel()
	db, err := pgx.Connect(connectCtx, connectionString)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	defer db.Close(ctx)

	dbName := "test_" + util.NewULID()
	if _, err := db.Exec(ctx, "CREATE DATABASE "+dbName); err != nil {
		t.Fatal(errors.WithStack(err))
	}
	defer func() {
		// disconnect all db user before cleanup
		_, err := db.Exec(ctx,
			`SELECT pg_terminate_backend(pg_stat_activity.pid)
			 FROM pg_stat_activity WHERE pg_stat_activity.datname = '`+dbName+`';`)
		if err != nil {
			t.Logf("Failed to disconnect users: %v", err)
		}
		if _, err := db.Exec(ctx, "DROP DATABASE "+dbName); err != nil {
			t.Logf("Failed to drop database %s: %v", dbName, err)
		}
	}()

	testDbPool, err := pgxpool.Connect(ctx, connectionString+" dbname="+dbName)
	if err != nil {
		t.Fatal(errors.WithStack(err))
	}
	defer testDbPool.Close()

	if err := UpdateDatabase(ctx, testDbPool, migrations); err != nil {
		t.Fatal(err)
	}

	action(testDbPool)
}
