package surrealdb

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	surreal "github.com/surrealdb/surrealdb.go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bobmcallan/folio/internal/common"
)

var (
	surrealOnce    sync.Once
	surrealAddress string
	surrealError   error
)

// startSurrealDB starts one shared SurrealDB container per test process.
func startSurrealDB(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping SurrealDB container test in short mode")
	}

	surrealOnce.Do(func() {
		ctx := context.Background()

		req := testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--user", "root", "--pass", "root"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("8000/tcp"),
				wait.ForLog("Started web server"),
			).WithDeadline(60 * time.Second),
		}

		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if err != nil {
			surrealError = fmt.Errorf("start SurrealDB container: %w", err)
			return
		}

		host, err := container.Host(ctx)
		if err != nil {
			container.Terminate(ctx)
			surrealError = fmt.Errorf("get SurrealDB host: %w", err)
			return
		}

		mappedPort, err := container.MappedPort(ctx, "8000/tcp")
		if err != nil {
			container.Terminate(ctx)
			surrealError = fmt.Errorf("get SurrealDB port: %w", err)
			return
		}

		surrealAddress = fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port())
	})

	if surrealError != nil {
		t.Fatalf("SurrealDB container failed: %v", surrealError)
	}
	return surrealAddress
}

// testDB returns a connection to a database unique to the calling test.
func testDB(t *testing.T) *surreal.DB {
	t.Helper()

	address := startSurrealDB(t)
	ctx := context.Background()

	// SurrealDB rejects "/" in database names, which subtests produce.
	sanitized := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := Connect(ctx, common.StorageConfig{
		Address:   address,
		Username:  "root",
		Password:  "root",
		Namespace: "folio_test",
		Database:  fmt.Sprintf("t_%s_%d", sanitized, time.Now().UnixNano()%100000),
	})
	if err != nil {
		t.Fatalf("connect to SurrealDB: %v", err)
	}

	t.Cleanup(func() {
		db.Close(context.Background())
	})
	return db
}

// testStore returns a store with a fast poll interval.
func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(context.Background(), testDB(t), common.NewSilentLogger(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}
