package infra

import (
	"context"
	"os"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// PGContainer wraps the throwaway Postgres backing one stress run. The zero
// value stands in for an externally provided database that we must not
// terminate.
type PGContainer struct {
	C *postgres.PostgresContainer
}

// StartPostgres16 provisions a disposable database for a stress run, or reuses
// the one named by overrideDSN or RESERVE_TEST_PG_DSN. Pinned to 16, the
// version the migrations target: the schema needs btree_gist exclusion over
// tstzrange and gen_random_uuid.
func StartPostgres16(ctx context.Context, overrideDSN string) (*PGContainer, string, error) {
	if overrideDSN == "" {
		overrideDSN = os.Getenv("RESERVE_TEST_PG_DSN")
	}
	if overrideDSN != "" {
		return &PGContainer{}, overrideDSN, nil
	}

	pgC, err := postgres.Run(ctx,
		"postgres:16",
		postgres.WithDatabase("reserveflow_test"),
		postgres.WithUsername("reserve"),
		postgres.WithPassword("reserve"),
	)
	if err != nil {
		return nil, "", err
	}

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, "", err
	}
	return &PGContainer{C: pgC}, dsn, nil
}

// Terminate tears the container down; a no-op when the run reused an external
// database.
func (p *PGContainer) Terminate(ctx context.Context) error {
	if p == nil || p.C == nil {
		return nil
	}
	return p.C.Terminate(ctx)
}
