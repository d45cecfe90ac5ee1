//go:build integration

package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresURL returns DATABASE_URL when set, otherwise the DSN of a
// throwaway postgres:16-alpine container. The test is skipped when neither
// is reachable.
func PostgresURL(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	if url := os.Getenv("DATABASE_URL"); url != "" {
		if err := waitForPostgres(url, 3); err != nil {
			t.Skipf("Postgres not available: %v", err)
		}
		return url
	}

	container, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		tcpostgres.WithDatabase("voice_test"),
		tcpostgres.WithUsername("voice"),
		tcpostgres.WithPassword("voice_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get postgres host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get postgres port: %v", err)
	}

	url := fmt.Sprintf("postgres://voice:voice_test@%s:%s/voice_test?sslmode=disable", host, port.Port())
	if err := waitForPostgres(url, 30); err != nil {
		t.Fatalf("Failed to connect to postgres: %v", err)
	}
	return url
}

func waitForPostgres(url string, attempts int) error {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return err
	}
	defer db.Close()

	for i := 0; i < attempts; i++ {
		if err = db.Ping(); err == nil {
			return nil
		}
		time.Sleep(time.Second)
	}
	return err
}
