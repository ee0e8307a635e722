package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"eventsched/internal/app"
	"eventsched/pkg/event"
	"eventsched/pkg/logx"
	"eventsched/pkg/txn"
)

var errDemoAbort = errors.New("demo: abort to trigger rollback")

// runDemo walks one event through its lifecycle against the configured
// service, including a rolled back remove.
func runDemo(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("demo")
	slug, key := identityFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *slug == "" {
		*slug = "demo"
	}
	if *key == "" {
		*key = fmt.Sprintf("k%d", time.Now().UnixNano())
	}
	c := a.Client()
	log := a.Logger().With(logx.String("comp", "demo"), logx.String("slug", *slug), logx.String("key", *key))
	step := func(name string, v any) {
		fmt.Fprintf(os.Stdout, "== %s\n", name)
		_ = printJSON(v)
	}

	ev, err := c.Add(ctx, *slug, *key, event.Params{
		Request: event.Request{Host: "localhost", Path: "/ping", Method: "POST", Headers: map[string]string{"X-Demo": "1"}},
		RunAt:   event.At(time.Now().Add(time.Hour)),
	})
	if err != nil {
		return err
	}
	step("add", ev)

	if ev, err = c.Get(ctx, *slug, *key); err != nil {
		return err
	}
	step("get", ev)

	later := event.At(time.Now().Add(2 * time.Hour))
	if ev, err = c.Update(ctx, *slug, *key, event.Updates{RunAt: &later}, nil); err != nil {
		return err
	}
	step("update", ev)

	if ev, err = c.Get(ctx, *slug, *key); err != nil {
		return err
	}
	step("get", ev)

	err = txn.Run(ctx, func(ctx context.Context, tx *txn.Tx) error {
		if _, err := c.Remove(ctx, *slug, *key, tx); err != nil {
			return err
		}
		return errDemoAbort
	}, txn.WithLogger(log))
	if !errors.Is(err, errDemoAbort) {
		return err
	}
	if ev, err = c.Get(ctx, *slug, *key); err != nil {
		return err
	}
	step("get after rollback", ev)

	n, err := c.Remove(ctx, *slug, *key, nil)
	if err != nil {
		return err
	}
	step("remove", map[string]int{"deleted": n})

	if ev, err = c.Get(ctx, *slug, *key); err != nil {
		return err
	}
	step("get", ev)
	log.Info("demo finished")
	return nil
}
