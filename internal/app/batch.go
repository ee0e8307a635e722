package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"eventsched/pkg/logx"
	"eventsched/pkg/scheduler"
	"eventsched/pkg/txn"
)

// batchParallelism bounds concurrent requests of one batch.
const batchParallelism = 4

// RemoveMany removes every key under slug concurrently and returns the
// deleted count per key.
//
// When atomic is set, the removals share one transaction: if any of them
// fails, the ones that succeeded are re-created and the first error is
// returned.
func (a *App) RemoveMany(ctx context.Context, slug string, keys []string, atomic bool) (map[string]int, error) {
	var (
		mu  sync.Mutex
		out = make(map[string]int, len(keys))
	)
	run := func(ctx context.Context, tx *txn.Tx) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(batchParallelism)
		var (
			errMu sync.Mutex
			errs  []error
		)
		for _, key := range keys {
			key := key
			g.Go(func() error {
				// A nil *txn.Tx must not become a non-nil Transaction.
				var t scheduler.Transaction
				if tx != nil {
					t = tx
				}
				n, err := a.client.Remove(gctx, slug, key, t)
				if err != nil {
					err = fmt.Errorf("%s/%s: %w", slug, key, err)
					if atomic {
						return err
					}
					errMu.Lock()
					errs = append(errs, err)
					errMu.Unlock()
					return nil
				}
				mu.Lock()
				out[key] = n
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		return errors.Join(errs...)
	}

	if !atomic {
		err := run(ctx, nil)
		return out, err
	}
	err := txn.Run(ctx, run, txn.WithLogger(a.log.With(logx.String("comp", "batch"))))
	if err != nil {
		return nil, err
	}
	return out, nil
}
