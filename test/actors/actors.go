// Package actors hosts the concurrent workloads of the stress harness. Each
// actor loops until stopped and tolerates transient database errors: the
// chaos monkey terminates backends at random, and the oracles decide whether
// the system stayed consistent.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"permitflow/permission"
	"permitflow/sweeper"
)

// Creator drives CreateAndSend with a mix of valid and malformed input, so
// both the happy path and the MALFORMED path run under contention.
func Creator(ctx context.Context, svc *permission.Service, dataNeedIDs []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		meteringPoint := fmt.Sprintf("ES%012d", rand.Int63n(1e12))
		if rand.Intn(5) == 0 {
			meteringPoint = "x!" // malformed on purpose
		}

		_, err := svc.CreateAndSend(ctx, permission.CreateParams{
			ConnectionID:    fmt.Sprintf("conn-%d", rand.Intn(4)),
			DataNeedID:      dataNeedIDs[rand.Intn(len(dataNeedIDs))],
			MeteringPointID: meteringPoint,
		})
		if err != nil {
			var verr *permission.ValidationError
			if !errors.As(err, &verr) && ctx.Err() != nil {
				return ctx.Err()
			}
			// malformed input and chaos-induced failures are both expected
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Decider plays the permission administrator: it picks requests sitting in
// SENT_TO_PERMISSION_ADMINISTRATOR and accepts or rejects them.
func Decider(ctx context.Context, svc *permission.Service, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var permissionID string
		err := pool.QueryRow(ctx, `
			SELECT permission_id FROM permission_requests
			WHERE status = 'SENT_TO_PERMISSION_ADMINISTRATOR'
			ORDER BY random() LIMIT 1
		`).Scan(&permissionID)
		if err == nil {
			if rand.Intn(4) == 0 {
				err = svc.Reject(ctx, permissionID)
			} else {
				err = svc.Accept(ctx, permissionID, fmt.Sprintf("dso-%d", rand.Intn(8)))
			}
			// a concurrent decider or the sweeper may have won the race
			if err != nil && !permission.IsStateTransitionError(err) && ctx.Err() != nil {
				return ctx.Err()
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Finisher drives accepted permissions into one of their terminal exits.
func Finisher(ctx context.Context, svc *permission.Service, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var permissionID string
		err := pool.QueryRow(ctx, `
			SELECT permission_id FROM permission_requests
			WHERE status = 'ACCEPTED'
			ORDER BY random() LIMIT 1
		`).Scan(&permissionID)
		if err == nil {
			switch rand.Intn(4) {
			case 0:
				err = svc.Fulfill(ctx, permissionID)
			case 1:
				err = svc.Revoke(ctx, permissionID)
			case 2:
				err = svc.Terminate(ctx, permissionID)
			default:
				err = svc.TimeLimit(ctx, permissionID)
			}
			if err != nil && !permission.IsStateTransitionError(err) && ctx.Err() != nil {
				return ctx.Err()
			}
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// RacingCommitter fires random transitions at random requests. Almost all of
// them are illegal; the store must reject every one without corrupting the
// event log.
func RacingCommitter(ctx context.Context, store *permission.PGStore, graph permission.Graph, pool *pgxpool.Pool, stop <-chan struct{}) error {
	statuses := []permission.Status{
		permission.StatusValidated,
		permission.StatusAccepted,
		permission.StatusRejected,
		permission.StatusFulfilled,
		permission.StatusTimedOut,
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var permissionID string
		err := pool.QueryRow(ctx, `SELECT permission_id FROM permission_requests ORDER BY random() LIMIT 1`).Scan(&permissionID)
		if err == nil {
			st := statuses[rand.Intn(len(statuses))]
			if _, err := store.Append(ctx, graph, permission.NewSimpleEvent(permissionID, st, time.Now().UTC())); err != nil {
				if !permission.IsStateTransitionError(err) && ctx.Err() != nil {
					return ctx.Err()
				}
			}
		}
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// SweeperLoop runs sweeps far more often than production would, so stale
// requests and sweep/decider races happen within the test window.
func SweeperLoop(ctx context.Context, sw *sweeper.Sweeper, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := sw.SweepOnce(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(time.Duration(100+rand.Intn(150)) * time.Millisecond)
	}
}
