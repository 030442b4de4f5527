package testutil

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	pkgpostgres "github.com/bibbank/impairment-engine/pkg/postgres"
)

// PostgresContainer is a throwaway PostgreSQL 16 database with the schema applied.
type PostgresContainer struct {
	Container *postgres.PostgresContainer
	DSN       string
	Pool      *pgxpool.Pool
}

// NewPostgresContainer starts PostgreSQL, applies the migrations in
// migrationsDir with golang-migrate and opens a pool. Everything is torn down
// when the test ends.
func NewPostgresContainer(ctx context.Context, t *testing.T, migrationsDir string) *PostgresContainer {
	t.Helper()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("impairment"),
		postgres.WithUsername("impairment"),
		postgres.WithPassword("impairment"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	pc := &PostgresContainer{Container: container}
	t.Cleanup(func() { pc.terminate(t) })

	pc.DSN, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("postgres connection string: %v", err)
	}

	if migrationsDir != "" {
		schema, err := pkgpostgres.RunMigrations(pc.DSN, migrationsDir)
		if err != nil {
			t.Fatalf("migrate %s: %v", migrationsDir, err)
		}
		t.Logf("schema at version %d", schema.Version)
	}

	pc.Pool, err = pgxpool.New(ctx, pc.DSN)
	if err != nil {
		t.Fatalf("create pgxpool: %v", err)
	}
	if err := pkgpostgres.HealthCheck(ctx, pc.Pool); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}
	return pc
}

// Truncate empties the given tables so subtests can share one container.
func (pc *PostgresContainer) Truncate(ctx context.Context, t *testing.T, tables ...string) {
	t.Helper()

	idents := make([]string, len(tables))
	for i, table := range tables {
		idents[i] = pgx.Identifier{table}.Sanitize()
	}
	if _, err := pc.Pool.Exec(ctx, "TRUNCATE "+strings.Join(idents, ", ")+" RESTART IDENTITY CASCADE"); err != nil {
		t.Fatalf("truncate %v: %v", tables, err)
	}
}

func (pc *PostgresContainer) terminate(t *testing.T) {
	t.Helper()

	if pc.Pool != nil {
		pc.Pool.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := pc.Container.Terminate(ctx); err != nil {
		t.Logf("terminate postgres container: %v", err)
	}
}
