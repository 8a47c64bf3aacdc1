package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/pgweb/pkg/config"
)

func testDatabaseConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Host:           "db.internal",
		Port:           5433,
		Database:       "app",
		User:           "web",
		Password:       "s3cret pass",
		SSLMode:        "disable",
		ConnectTimeout: 3 * time.Second,
	}
}

func TestConnConfig(t *testing.T) {
	cc, err := connConfig(testDatabaseConfig(), "pg_web")
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cc.Host)
	assert.Equal(t, uint16(5433), cc.Port)
	assert.Equal(t, "app", cc.Database)
	assert.Equal(t, "web", cc.User)
	assert.Equal(t, "s3cret pass", cc.Password)
	assert.Equal(t, 3*time.Second, cc.ConnectTimeout)
	assert.Equal(t, "pg_web", cc.RuntimeParams["application_name"])
	assert.NotNil(t, cc.Tracer)
}

func TestWaitForDatabase_RetriesUntilReady(t *testing.T) {
	calls := 0
	ping := func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}

	opts := RetryOptions{InitialDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, BackoffFactor: 2}
	require.NoError(t, WaitForDatabase(context.Background(), ping, opts))
	assert.Equal(t, 3, calls)
}

func TestWaitForDatabase_GivesUpOnContext(t *testing.T) {
	refused := errors.New("connection refused")
	ping := func(context.Context) error { return refused }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	opts := RetryOptions{InitialDelay: 5 * time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2, JitterFactor: 0.5}
	err := WaitForDatabase(ctx, ping, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, refused)
	assert.Contains(t, err.Error(), "database not ready after")
}

func TestConnect_Unreachable(t *testing.T) {
	db := testDatabaseConfig()
	db.Host = "127.0.0.1"
	db.Port = 1
	db.ConnectTimeout = time.Second

	_, err := Connect(context.Background(), db, "pg_web")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `connect to database "app"`)
}
