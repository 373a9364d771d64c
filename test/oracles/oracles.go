package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_no_active_overlap",
			SQL: `SELECT a.id, b.id FROM reservations a
                  JOIN reservations b
                    ON a.resource_id = b.resource_id
                   AND a.id < b.id
                   AND a.timespan && b.timespan
                  WHERE a.status <> 'cancelled' AND b.status <> 'cancelled'`,
		},
		{
			Name: "O2_one_create_per_reservation",
			SQL: `SELECT r.id FROM reservations r
                  LEFT JOIN reservation_changes c
                    ON c.reservation_id = r.id AND c.op = 'create'
                  GROUP BY r.id HAVING COUNT(c.seq) <> 1`,
		},
		{
			Name: "O3_create_seq_first",
			SQL: `SELECT c.reservation_id, c.seq FROM reservation_changes c
                  WHERE c.op <> 'create'
                    AND c.seq <= (SELECT min(seq) FROM reservation_changes cc
                                  WHERE cc.reservation_id = c.reservation_id
                                    AND cc.op = 'create')`,
		},
		{
			Name: "O4_cancelled_has_delete",
			SQL: `SELECT r.id FROM reservations r
                  WHERE r.status = 'cancelled'
                    AND NOT EXISTS (SELECT 1 FROM reservation_changes c
                                    WHERE c.reservation_id = r.id AND c.op = 'delete')`,
		},
		{
			Name: "O5_confirmed_has_update",
			SQL: `SELECT r.id FROM reservations r
                  WHERE r.status = 'confirmed'
                    AND NOT EXISTS (SELECT 1 FROM reservation_changes c
                                    WHERE c.reservation_id = r.id AND c.op = 'update')`,
		},
		{
			Name: "O6_window_well_formed",
			SQL: `SELECT id FROM reservations
                  WHERE isempty(timespan)
                     OR lower(timespan) IS NULL
                     OR upper(timespan) IS NULL`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
