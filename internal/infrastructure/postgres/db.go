package postgres

import (
	pkgpostgres "github.com/bibbank/impairment-engine/pkg/postgres"
)

// DB is the subset of *pgxpool.Pool the repositories use.
type DB interface {
	pkgpostgres.Querier
	pkgpostgres.Beginner
}

// scannable is satisfied by pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}
