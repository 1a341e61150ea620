// Package oracles holds the SQL invariants the stress harness checks while
// the actors run. Every query returns rows only when an invariant is broken.
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
			Name: "O1_seq_dense_monotonic",
			SQL: `WITH seqs AS (
                      SELECT permission_id, seq,
                             LAG(seq) OVER (PARTITION BY permission_id ORDER BY seq) AS prev
                      FROM permission_events)
                  SELECT * FROM seqs
                  WHERE (prev IS NULL AND seq <> 1)
                     OR (prev IS NOT NULL AND seq <> prev + 1)`,
		},
		{
			Name: "O2_history_starts_with_created",
			SQL: `SELECT permission_id FROM permission_events
                  WHERE seq = 1 AND status <> 'CREATED'`,
		},
		{
			Name: "O3_projection_matches_last_event",
			SQL: `SELECT r.permission_id, r.status, e.status AS last_event_status
                  FROM permission_requests r
                  JOIN LATERAL (
                      SELECT status FROM permission_events
                      WHERE permission_id = r.permission_id
                      ORDER BY seq DESC LIMIT 1
                  ) e ON true
                  WHERE r.status <> e.status`,
		},
		{
			Name: "O4_no_orphan_projection",
			SQL: `SELECT r.permission_id FROM permission_requests r
                  WHERE NOT EXISTS (
                      SELECT 1 FROM permission_events e WHERE e.permission_id = r.permission_id
                  )`,
		},
		{
			Name: "O5_terminal_is_final",
			SQL: `SELECT e.permission_id, e.seq, e.status
                  FROM permission_events e
                  JOIN permission_events term
                    ON term.permission_id = e.permission_id
                   AND term.seq < e.seq
                  WHERE term.status IN (
                      'MALFORMED', 'TIMED_OUT', 'INVALID', 'REJECTED',
                      'REVOKED', 'TIME_LIMIT', 'FULFILLED', 'TERMINATED'
                  )`,
		},
		{
			Name: "O6_only_legal_edges",
			SQL: `WITH steps AS (
                      SELECT permission_id, seq, status,
                             LAG(status) OVER (PARTITION BY permission_id ORDER BY seq) AS prev
                      FROM permission_events),
                  legal(prev, next) AS (VALUES
                      ('CREATED', 'VALIDATED'), ('CREATED', 'MALFORMED'), ('CREATED', 'TIMED_OUT'),
                      ('VALIDATED', 'SENT_TO_PERMISSION_ADMINISTRATOR'), ('VALIDATED', 'UNABLE_TO_SEND'), ('VALIDATED', 'TIMED_OUT'),
                      ('UNABLE_TO_SEND', 'VALIDATED'), ('UNABLE_TO_SEND', 'TIMED_OUT'),
                      ('SENT_TO_PERMISSION_ADMINISTRATOR', 'ACCEPTED'), ('SENT_TO_PERMISSION_ADMINISTRATOR', 'REJECTED'),
                      ('SENT_TO_PERMISSION_ADMINISTRATOR', 'INVALID'), ('SENT_TO_PERMISSION_ADMINISTRATOR', 'TIMED_OUT'),
                      ('ACCEPTED', 'FULFILLED'), ('ACCEPTED', 'TERMINATED'), ('ACCEPTED', 'REVOKED'),
                      ('ACCEPTED', 'TIME_LIMIT'), ('ACCEPTED', 'TIMED_OUT'))
                  SELECT * FROM steps s
                  WHERE s.prev IS NOT NULL
                    AND NOT EXISTS (
                        SELECT 1 FROM legal l WHERE l.prev = s.prev AND l.next = s.status
                    )`,
		},
		{
			Name: "O7_accepted_carries_timeframe",
			SQL: `SELECT permission_id FROM permission_requests
                  WHERE status IN ('ACCEPTED', 'FULFILLED')
                    AND (start_date IS NULL OR end_date IS NULL)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or empty name if all pass.
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
